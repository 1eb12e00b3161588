package ipabuild

import (
	"crypto/x509"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	gop12 "software.sslmate.com/src/go-pkcs12"
)

// LoadSigningCertificate returns the certificate of a PKCS#12 signing identity
func LoadSigningCertificate(p12Data []byte, password string) (*x509.Certificate, error) {
	_, cert, _, err := gop12.DecodeChain(p12Data, password)
	if err != nil {
		return nil, fmt.Errorf("failed to decode P12: %w", err)
	}
	return cert, nil
}

// CheckSigning validates the provisioning profiles listed for a build kind.
//
// Each profile must be unexpired at now and, when the kind sets provisioning
// overrides, be referenced by one of them. The profile's team must match the
// export team ID, or DEVELOPMENT_TEAM when opts has none, and its application
// identifier must cover one of the bundle IDs in opts.ProvisioningProfiles.
// If cert is not nil it must be one of the profile's developer certificates.
// No external tool is invoked.
func CheckSigning(kc *KindConfig, opts *ExportOptions, root string, cert *x509.Certificate, now time.Time) error {
	team := kc.Provisioning["DEVELOPMENT_TEAM"]
	var bundleIDs []string
	if opts != nil {
		if opts.TeamID != "" {
			team = opts.TeamID
		}
		for id := range opts.ProvisioningProfiles {
			bundleIDs = append(bundleIDs, id)
		}
		sort.Strings(bundleIDs)
	}

	for _, file := range kc.ProfileFiles {
		path := file
		if !filepath.IsAbs(path) {
			path = filepath.Join(root, path)
		}

		profile, err := LoadProvisioningProfile(path)
		if err != nil {
			return fmt.Errorf("%s: %w", file, err)
		}

		if profile.IsExpiredAt(now) {
			return fmt.Errorf("%s: provisioning profile %q expired on %s",
				file, profile.Name, profile.ExpirationDate.Format("2006-01-02"))
		}

		if len(kc.Provisioning) > 0 && !referenced(profile, kc.Provisioning) {
			return fmt.Errorf("%s: provisioning profile %q (%s) is not referenced by any provisioning setting",
				file, profile.Name, profile.UUID)
		}

		if team != "" && profile.TeamID() != team {
			return fmt.Errorf("%s: provisioning profile %q belongs to team %q, expected %q",
				file, profile.Name, profile.TeamID(), team)
		}

		if len(bundleIDs) > 0 && !coversAny(profile, bundleIDs) {
			return fmt.Errorf("%s: application identifier %q of provisioning profile %q does not cover any of %s",
				file, profile.ApplicationIdentifier(), profile.Name, strings.Join(bundleIDs, ", "))
		}

		if cert != nil {
			certs, err := profile.Certificates()
			if err != nil {
				return fmt.Errorf("%s: %w", file, err)
			}
			if !containsCertificate(certs, cert) {
				return fmt.Errorf("%s: signing certificate %q is not included in provisioning profile %q",
					file, cert.Subject.CommonName, profile.Name)
			}
		}
	}
	return nil
}

func referenced(profile *ProvisioningProfile, settings map[string]string) bool {
	for _, id := range settings {
		if profile.Identifies(id) {
			return true
		}
	}
	return false
}

func coversAny(profile *ProvisioningProfile, bundleIDs []string) bool {
	for _, id := range bundleIDs {
		if profile.CoversBundleID(id) {
			return true
		}
	}
	return false
}

func containsCertificate(certs []*x509.Certificate, cert *x509.Certificate) bool {
	for _, c := range certs {
		if c.Equal(cert) {
			return true
		}
	}
	return false
}
