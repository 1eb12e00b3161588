package ipabuild

import (
	"fmt"
	"os"

	"howett.net/plist"
)

// ExportOptions is the descriptor read by `xcodebuild -exportArchive`
type ExportOptions struct {
	Method               string            `plist:"method" yaml:"method"` // app-store, enterprise, ad-hoc, development
	TeamID               string            `plist:"teamID,omitempty" yaml:"team_id"`
	SigningStyle         string            `plist:"signingStyle,omitempty" yaml:"signing_style"`
	SigningCertificate   string            `plist:"signingCertificate,omitempty" yaml:"signing_certificate"`
	ProvisioningProfiles map[string]string `plist:"provisioningProfiles,omitempty" yaml:"provisioning_profiles"` // bundle ID -> profile name or UUID
	CompileBitcode       *bool             `plist:"compileBitcode,omitempty" yaml:"compile_bitcode"`
	UploadBitcode        *bool             `plist:"uploadBitcode,omitempty" yaml:"upload_bitcode"`
	UploadSymbols        *bool             `plist:"uploadSymbols,omitempty" yaml:"upload_symbols"`
	StripSwiftSymbols    *bool             `plist:"stripSwiftSymbols,omitempty" yaml:"strip_swift_symbols"`
}

// Marshal encodes the options as an XML property list
func (o *ExportOptions) Marshal() ([]byte, error) {
	if o.Method == "" {
		return nil, fmt.Errorf("export method is required")
	}
	data, err := plist.MarshalIndent(o, plist.XMLFormat, "\t")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal export options: %w", err)
	}
	return data, nil
}

// WriteExportOptions writes the options to path as an XML property list
func WriteExportOptions(path string, o *ExportOptions) error {
	data, err := o.Marshal()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write export options: %w", err)
	}
	return nil
}

// ReadExportOptions parses an existing export options property list
func ReadExportOptions(path string) (*ExportOptions, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read export options: %w", err)
	}

	var o ExportOptions
	if _, err := plist.Unmarshal(data, &o); err != nil {
		return nil, fmt.Errorf("failed to parse export options: %w", err)
	}
	return &o, nil
}
