package ipabuild

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mozilla.org/pkcs7"
	"howett.net/plist"
	gop12 "software.sslmate.com/src/go-pkcs12"
)

var testNow = time.Date(2018, 10, 16, 12, 0, 0, 0, time.UTC)

// testIdentity is a self-signed signing certificate with its key
type testIdentity struct {
	cert *x509.Certificate
	key  *rsa.PrivateKey
}

func newTestIdentity(t *testing.T, cn string) *testIdentity {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	template := &x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject: pkix.Name{
			CommonName:         cn,
			OrganizationalUnit: []string{"TEAM123"},
		},
		NotBefore:   testNow.Add(-24 * time.Hour),
		NotAfter:    testNow.Add(365 * 24 * time.Hour),
		KeyUsage:    x509.KeyUsageDigitalSignature,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageCodeSigning},
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	return &testIdentity{cert: cert, key: key}
}

// writeTestProfile writes a signed .mobileprovision embedding the given certificates
func writeTestProfile(t *testing.T, dir, file, name, uuid string, expires time.Time, signer *testIdentity, certs ...*x509.Certificate) string {
	t.Helper()

	var certData [][]byte
	for _, c := range certs {
		certData = append(certData, c.Raw)
	}
	payload, err := plist.Marshal(map[string]interface{}{
		"Name":                  name,
		"UUID":                  uuid,
		"TeamName":              "Example Team",
		"TeamIdentifier":        []string{"TEAM123"},
		"DeveloperCertificates": certData,
		"CreationDate":          testNow.Add(-24 * time.Hour),
		"ExpirationDate":        expires,
		"Entitlements": map[string]interface{}{
			"application-identifier": "TEAM123.org.adblockplus.AdblockPlusSafari",
		},
	}, plist.XMLFormat)
	require.NoError(t, err)

	sd, err := pkcs7.NewSignedData(payload)
	require.NoError(t, err)
	require.NoError(t, sd.AddSigner(signer.cert, signer.key, pkcs7.SignerInfoConfig{}))
	signed, err := sd.Finish()
	require.NoError(t, err)

	path := filepath.Join(dir, file)
	require.NoError(t, os.WriteFile(path, signed, 0644))
	return path
}

func TestParseProvisioningProfile(t *testing.T) {
	dir := t.TempDir()
	id := newTestIdentity(t, "iPhone Distribution: Example")
	path := writeTestProfile(t, dir, "dist.mobileprovision", "ABP App Store", "1111-2222", testNow.Add(time.Hour), id, id.cert)

	profile, err := LoadProvisioningProfile(path)
	require.NoError(t, err)
	assert.Equal(t, "ABP App Store", profile.Name)
	assert.Equal(t, "1111-2222", profile.UUID)
	assert.Equal(t, "TEAM123", profile.TeamID())
	assert.Equal(t, "TEAM123.org.adblockplus.AdblockPlusSafari", profile.ApplicationIdentifier())
	assert.False(t, profile.IsExpiredAt(testNow))
	assert.True(t, profile.IsExpiredAt(testNow.Add(2*time.Hour)))
	assert.True(t, profile.Identifies("ABP App Store"))
	assert.True(t, profile.Identifies("1111-2222"))
	assert.False(t, profile.Identifies(""))
	assert.True(t, profile.CoversBundleID("org.adblockplus.AdblockPlusSafari"))
	assert.False(t, profile.CoversBundleID("org.adblockplus.devbuilds.AdblockPlusSafari"))

	certs, err := profile.Certificates()
	require.NoError(t, err)
	require.Len(t, certs, 1)
	assert.Equal(t, "iPhone Distribution: Example", certs[0].Subject.CommonName)
}

func TestCoversBundleID(t *testing.T) {
	tests := []struct {
		appID    string
		bundleID string
		want     bool
	}{
		{"TEAM123.org.adblockplus.AdblockPlusSafari", "org.adblockplus.AdblockPlusSafari", true},
		{"TEAM123.org.adblockplus.AdblockPlusSafari", "org.adblockplus.AdblockPlusSafari.ext", false},
		{"TEAM123.org.adblockplus.*", "org.adblockplus.AdblockPlusSafari", true},
		{"TEAM123.org.adblockplus.*", "org.other.App", false},
		{"TEAM123.*", "org.other.App", true},
		{"", "org.adblockplus.AdblockPlusSafari", false},
		{"TEAM123.org.adblockplus.AdblockPlusSafari", "", false},
	}

	for _, tt := range tests {
		profile := &ProvisioningProfile{Entitlements: map[string]interface{}{"application-identifier": tt.appID}}
		assert.Equal(t, tt.want, profile.CoversBundleID(tt.bundleID), "%s covers %s", tt.appID, tt.bundleID)
	}
}

func TestParseProvisioningProfileInvalid(t *testing.T) {
	_, err := ParseProvisioningProfile([]byte("not a profile"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse PKCS#7 container")
}

func TestLoadSigningCertificate(t *testing.T) {
	id := newTestIdentity(t, "iPhone Distribution: Example")
	p12, err := gop12.Encode(rand.Reader, id.key, id.cert, nil, "secret")
	require.NoError(t, err)

	cert, err := LoadSigningCertificate(p12, "secret")
	require.NoError(t, err)
	assert.True(t, cert.Equal(id.cert))

	_, err = LoadSigningCertificate(p12, "wrong")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to decode P12")
}

func TestCheckSigning(t *testing.T) {
	dir := t.TempDir()
	id := newTestIdentity(t, "iPhone Distribution: Example")
	other := newTestIdentity(t, "iPhone Distribution: Someone Else")

	writeTestProfile(t, dir, "valid.mobileprovision", "ABP App Store", "1111-2222", testNow.Add(time.Hour), id, id.cert)
	writeTestProfile(t, dir, "expired.mobileprovision", "ABP Old", "3333-4444", testNow.Add(-time.Hour), id, id.cert)

	tests := []struct {
		name   string
		kc     *KindConfig
		opts   *ExportOptions
		cert   *x509.Certificate
		errMsg string
	}{
		{
			name: "no profiles",
			kc:   &KindConfig{},
		},
		{
			name: "valid profile by name",
			kc: &KindConfig{
				ProfileFiles: []string{"valid.mobileprovision"},
				Provisioning: map[string]string{"PROVISIONING_PROFILE_SPECIFIER": "ABP App Store"},
			},
			cert: id.cert,
		},
		{
			name: "valid profile by UUID",
			kc: &KindConfig{
				ProfileFiles: []string{filepath.Join(dir, "valid.mobileprovision")},
				Provisioning: map[string]string{"PROVISIONING_PROFILE": "1111-2222"},
			},
		},
		{
			name:   "expired",
			kc:     &KindConfig{ProfileFiles: []string{"expired.mobileprovision"}},
			errMsg: "expired on",
		},
		{
			name: "not referenced",
			kc: &KindConfig{
				ProfileFiles: []string{"valid.mobileprovision"},
				Provisioning: map[string]string{"PROVISIONING_PROFILE_SPECIFIER": "ABP Enterprise"},
			},
			errMsg: "is not referenced by any provisioning setting",
		},
		{
			name:   "certificate mismatch",
			kc:     &KindConfig{ProfileFiles: []string{"valid.mobileprovision"}},
			cert:   other.cert,
			errMsg: "is not included in provisioning profile",
		},
		{
			name: "team from export options",
			kc:   &KindConfig{ProfileFiles: []string{"valid.mobileprovision"}},
			opts: &ExportOptions{Method: "app-store", TeamID: "TEAM123"},
		},
		{
			name:   "team mismatch in export options",
			kc:     &KindConfig{ProfileFiles: []string{"valid.mobileprovision"}},
			opts:   &ExportOptions{Method: "app-store", TeamID: "OTHER99"},
			errMsg: `belongs to team "TEAM123", expected "OTHER99"`,
		},
		{
			name: "team mismatch in development team setting",
			kc: &KindConfig{
				ProfileFiles: []string{"valid.mobileprovision"},
				Provisioning: map[string]string{
					"DEVELOPMENT_TEAM":               "OTHER99",
					"PROVISIONING_PROFILE_SPECIFIER": "ABP App Store",
				},
			},
			errMsg: `expected "OTHER99"`,
		},
		{
			name: "bundle ID covered",
			kc:   &KindConfig{ProfileFiles: []string{"valid.mobileprovision"}},
			opts: &ExportOptions{
				Method:               "app-store",
				ProvisioningProfiles: map[string]string{"org.adblockplus.AdblockPlusSafari": "ABP App Store"},
			},
		},
		{
			name: "bundle ID not covered",
			kc:   &KindConfig{ProfileFiles: []string{"valid.mobileprovision"}},
			opts: &ExportOptions{
				Method:               "enterprise",
				ProvisioningProfiles: map[string]string{"org.adblockplus.devbuilds.AdblockPlusSafari": "ABP App Store"},
			},
			errMsg: "does not cover any of org.adblockplus.devbuilds.AdblockPlusSafari",
		},
		{
			name:   "missing file",
			kc:     &KindConfig{ProfileFiles: []string{"missing.mobileprovision"}},
			errMsg: "failed to read provisioning profile",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckSigning(tt.kc, tt.opts, dir, tt.cert, testNow)
			if tt.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestPipelineSigningPreflight(t *testing.T) {
	root, runner := testProject(t, "")
	id := newTestIdentity(t, "iPhone Distribution: Example")
	writeTestProfile(t, root, "old.mobileprovision", "ABP Old", "3333-4444", testNow.Add(-time.Hour), id, id.cert)

	cfg := DefaultConfig()
	cfg.Kinds[KindRelease].ProfileFiles = []string{"old.mobileprovision"}

	p := newTestPipeline(root, runner)
	p.Config = cfg
	p.Now = func() time.Time { return testNow }

	_, err := p.Run(testRequest(KindRelease, false))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expired")
	assert.Equal(t, StageStart, p.State())
	assert.Empty(t, runner.calls)
}

func TestPipelineSigningPreflightTeamMismatch(t *testing.T) {
	root, runner := testProject(t, "")
	id := newTestIdentity(t, "iPhone Distribution: Example")
	writeTestProfile(t, root, "dist.mobileprovision", "ABP App Store", "1111-2222", testNow.Add(time.Hour), id, id.cert)
	require.NoError(t, WriteExportOptions(filepath.Join(root, "releaseExportOptions.plist"),
		&ExportOptions{Method: "app-store", TeamID: "OTHER99"}))

	cfg := DefaultConfig()
	cfg.Kinds[KindRelease].ProfileFiles = []string{"dist.mobileprovision"}

	p := newTestPipeline(root, runner)
	p.Config = cfg
	p.Now = func() time.Time { return testNow }

	_, err := p.Run(testRequest(KindRelease, false))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "belongs to team")
	assert.Equal(t, StageStart, p.State())
	assert.Empty(t, runner.calls)
}

func TestPipelineSigningPreflightBundleIDNotCovered(t *testing.T) {
	root, runner := testProject(t, "")
	id := newTestIdentity(t, "iPhone Distribution: Example")
	writeTestProfile(t, root, "dist.mobileprovision", "ABP App Store", "1111-2222", testNow.Add(time.Hour), id, id.cert)

	cfg := DefaultConfig()
	cfg.Kinds[KindDevbuild].ProfileFiles = []string{"dist.mobileprovision"}
	cfg.Kinds[KindDevbuild].ExportOptions = &ExportOptions{
		Method:               "enterprise",
		ProvisioningProfiles: map[string]string{"org.adblockplus.devbuilds.AdblockPlusSafari": "ABP App Store"},
	}

	p := newTestPipeline(root, runner)
	p.Config = cfg
	p.Now = func() time.Time { return testNow }

	_, err := p.Run(testRequest(KindDevbuild, false))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not cover any of")
	assert.Equal(t, StageStart, p.State())
	assert.Empty(t, runner.calls)
}
