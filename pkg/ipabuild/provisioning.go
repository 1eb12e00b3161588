package ipabuild

import (
	"crypto/x509"
	"fmt"
	"os"
	"strings"
	"time"

	"go.mozilla.org/pkcs7"
	"howett.net/plist"
)

// ProvisioningProfile is the subset of a .mobileprovision file checked before a build
type ProvisioningProfile struct {
	Name                  string                 `plist:"Name"`
	UUID                  string                 `plist:"UUID"`
	TeamName              string                 `plist:"TeamName"`
	TeamIdentifier        []string               `plist:"TeamIdentifier"`
	AppIDName             string                 `plist:"AppIDName"`
	Entitlements          map[string]interface{} `plist:"Entitlements"`
	DeveloperCertificates [][]byte               `plist:"DeveloperCertificates"`
	ProvisionsAllDevices  bool                   `plist:"ProvisionsAllDevices"`
	CreationDate          time.Time              `plist:"CreationDate"`
	ExpirationDate        time.Time              `plist:"ExpirationDate"`
}

// ParseProvisioningProfile parses a .mobileprovision file, a CMS (PKCS#7)
// signed container with a plist payload
func ParseProvisioningProfile(data []byte) (*ProvisioningProfile, error) {
	p7, err := pkcs7.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse PKCS#7 container: %w", err)
	}

	var profile ProvisioningProfile
	if _, err := plist.Unmarshal(p7.Content, &profile); err != nil {
		return nil, fmt.Errorf("failed to parse provisioning profile plist: %w", err)
	}
	return &profile, nil
}

// LoadProvisioningProfile reads and parses the profile at path
func LoadProvisioningProfile(path string) (*ProvisioningProfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read provisioning profile: %w", err)
	}
	return ParseProvisioningProfile(data)
}

// TeamID returns the first team identifier of the profile
func (p *ProvisioningProfile) TeamID() string {
	if len(p.TeamIdentifier) > 0 {
		return p.TeamIdentifier[0]
	}
	return ""
}

// ApplicationIdentifier returns the application-identifier entitlement
func (p *ProvisioningProfile) ApplicationIdentifier() string {
	if appID, ok := p.Entitlements["application-identifier"].(string); ok {
		return appID
	}
	return ""
}

// CoversBundleID reports whether the profile's application identifier, with
// the team prefix removed, is bundleID or a wildcard that matches it
func (p *ProvisioningProfile) CoversBundleID(bundleID string) bool {
	appID := p.ApplicationIdentifier()
	if i := strings.Index(appID, "."); i >= 0 {
		appID = appID[i+1:]
	}
	switch {
	case appID == "" || bundleID == "":
		return false
	case appID == "*":
		return true
	case strings.HasSuffix(appID, ".*"):
		return strings.HasPrefix(bundleID, strings.TrimSuffix(appID, "*"))
	}
	return appID == bundleID
}

// IsExpiredAt reports whether the profile has expired at t
func (p *ProvisioningProfile) IsExpiredAt(t time.Time) bool {
	return t.After(p.ExpirationDate)
}

// Identifies reports whether id is the profile's name or UUID, the two forms
// Xcode accepts as a provisioning profile specifier
func (p *ProvisioningProfile) Identifies(id string) bool {
	return id != "" && (id == p.Name || id == p.UUID)
}

// Certificates parses the developer certificates embedded in the profile
func (p *ProvisioningProfile) Certificates() ([]*x509.Certificate, error) {
	var certs []*x509.Certificate
	for i, certData := range p.DeveloperCertificates {
		cert, err := x509.ParseCertificate(certData)
		if err != nil {
			return nil, fmt.Errorf("failed to parse certificate %d: %w", i, err)
		}
		certs = append(certs, cert)
	}
	return certs, nil
}
