package ipabuild

import (
	"archive/zip"
	"fmt"
	"io"
	"path"
	"strings"

	"howett.net/plist"
)

// IPAInfo describes the app packaged in an IPA
type IPAInfo struct {
	AppName     string   // Name of the .app bundle inside Payload/
	BundleID    string   // CFBundleIdentifier
	Version     string   // CFBundleShortVersionString
	BuildNumber string   // CFBundleVersion
	Executable  string   // CFBundleExecutable
	Slices      []string // Architectures of the main executable
	Frameworks  []string // Embedded frameworks, by bundle name
}

// InspectIPA reads the app bundle metadata of an IPA without extracting it
func InspectIPA(ipaPath string) (*IPAInfo, error) {
	r, err := zip.OpenReader(ipaPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open IPA: %w", err)
	}
	defer r.Close()

	appDir, err := findAppBundle(r.File)
	if err != nil {
		return nil, err
	}

	infoData, err := readZipEntry(r.File, appDir+"/Info.plist")
	if err != nil {
		return nil, fmt.Errorf("failed to read Info.plist: %w", err)
	}

	var plistInfo struct {
		BundleID    string `plist:"CFBundleIdentifier"`
		Version     string `plist:"CFBundleShortVersionString"`
		BuildNumber string `plist:"CFBundleVersion"`
		Executable  string `plist:"CFBundleExecutable"`
	}
	if _, err := plist.Unmarshal(infoData, &plistInfo); err != nil {
		return nil, fmt.Errorf("failed to parse Info.plist: %w", err)
	}
	if plistInfo.Executable == "" {
		return nil, fmt.Errorf("CFBundleExecutable not found in Info.plist")
	}

	info := &IPAInfo{
		AppName:     path.Base(appDir),
		BundleID:    plistInfo.BundleID,
		Version:     plistInfo.Version,
		BuildNumber: plistInfo.BuildNumber,
		Executable:  plistInfo.Executable,
		Frameworks:  embeddedFrameworks(r.File, appDir),
	}

	execData, err := readZipEntry(r.File, appDir+"/"+plistInfo.Executable)
	if err != nil {
		return nil, fmt.Errorf("failed to read executable: %w", err)
	}
	if info.Slices, err = MachOSlices(execData); err != nil {
		return nil, err
	}

	return info, nil
}

// findAppBundle returns the Payload/<name>.app directory of an IPA
func findAppBundle(files []*zip.File) (string, error) {
	for _, f := range files {
		parts := strings.Split(f.Name, "/")
		if len(parts) >= 2 && parts[0] == "Payload" && strings.HasSuffix(parts[1], ".app") {
			return "Payload/" + parts[1], nil
		}
	}
	return "", fmt.Errorf("no .app bundle found in Payload directory")
}

func embeddedFrameworks(files []*zip.File, appDir string) []string {
	prefix := appDir + "/Frameworks/"
	seen := make(map[string]bool)
	var frameworks []string
	for _, f := range files {
		if !strings.HasPrefix(f.Name, prefix) {
			continue
		}
		name := strings.SplitN(strings.TrimPrefix(f.Name, prefix), "/", 2)[0]
		if strings.HasSuffix(name, ".framework") && !seen[name] {
			seen[name] = true
			frameworks = append(frameworks, name)
		}
	}
	return frameworks
}

func readZipEntry(files []*zip.File, name string) ([]byte, error) {
	for _, f := range files {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, err
		}
		defer rc.Close()
		return io.ReadAll(rc)
	}
	return nil, fmt.Errorf("%s not found", name)
}
