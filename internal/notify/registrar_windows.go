//go:build windows

package notify

import (
	"fmt"

	"golang.org/x/sys/windows/registry"
)

type registryRegistrar struct{}

func NewPlatformRegistrar() Registrar { return registryRegistrar{} }

// Register writes HKCU\Software\Classes\AppUserModelId\<AUMID> and, when a
// scheme and command are set, the protocol handler toast buttons launch.
func (registryRegistrar) Register(id Identity) error {
	if err := setValues(`Software\Classes\AppUserModelId\`+id.AUMID, map[string]string{
		"DisplayName": id.DisplayName,
	}); err != nil {
		return fmt.Errorf("aumid key: %w", err)
	}
	if id.Scheme == "" || id.Command == "" {
		return nil
	}
	base := `Software\Classes\` + id.Scheme
	if err := setValues(base, map[string]string{
		"":             "URL:" + id.DisplayName,
		"URL Protocol": "",
	}); err != nil {
		return fmt.Errorf("scheme key: %w", err)
	}
	if err := setValues(base+`\shell\open\command`, map[string]string{"": id.Command}); err != nil {
		return fmt.Errorf("scheme command: %w", err)
	}
	return nil
}

func setValues(path string, values map[string]string) error {
	k, _, err := registry.CreateKey(registry.CURRENT_USER, path, registry.SET_VALUE)
	if err != nil {
		return err
	}
	defer k.Close()
	for name, v := range values {
		if err := k.SetStringValue(name, v); err != nil {
			return err
		}
	}
	return nil
}
