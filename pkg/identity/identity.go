package identity

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/google/uuid"
	"github.com/rootCircle/Beaconify/pkg/file"
)

// Identity holds the locator's unique identifier and optional metadata.
type Identity struct {
	ID   string `json:"device_id,omitempty"`
	Name string `json:"device_name,omitempty"`
}

// DeviceInfoInterface defines methods for managing device identity.
type DeviceInfoInterface interface {
	LoadDeviceInfo() error
	SaveDeviceID(deviceID string) error
	GetDeviceID() string
	GetDeviceIdentity() *Identity
}

// DeviceInfo manages the device identity and its associated file operations.
type DeviceInfo struct {
	DeviceInfoFile string
	Identity       Identity
	fileOps        file.FileOperations
}

// NewDeviceInfo initializes a new DeviceInfo instance.
func NewDeviceInfo(filePath string, fileOps file.FileOperations) *DeviceInfo {
	return &DeviceInfo{
		DeviceInfoFile: filePath,
		fileOps:        fileOps,
	}
}

// LoadDeviceInfo reads the device information from the file. A missing file
// leaves the identity empty.
func (d *DeviceInfo) LoadDeviceInfo() error {
	if d.DeviceInfoFile == "" {
		return nil
	}
	err := d.fileOps.ReadJsonFile(d.DeviceInfoFile, &d.Identity)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			d.Identity = Identity{}
			return nil
		}
		return fmt.Errorf("failed to read device identity %s: %w", d.DeviceInfoFile, err)
	}
	return nil
}

// EnsureDeviceID loads the identity and, when no id is known yet, adopts
// preferred or a freshly generated UUID and persists it.
func (d *DeviceInfo) EnsureDeviceID(preferred string) (string, error) {
	if err := d.LoadDeviceInfo(); err != nil {
		return "", err
	}
	switch {
	case preferred != "" && preferred != d.Identity.ID:
		return preferred, d.SaveDeviceID(preferred)
	case d.Identity.ID != "":
		return d.Identity.ID, nil
	default:
		id := uuid.NewString()
		return id, d.SaveDeviceID(id)
	}
}

// GetDeviceIdentity returns the current device Identity.
func (d *DeviceInfo) GetDeviceIdentity() *Identity {
	return &d.Identity
}

// GetDeviceID returns the current device ID.
func (d *DeviceInfo) GetDeviceID() string {
	return d.Identity.ID
}

// SaveDeviceID updates the device ID and writes it back to the file. Without
// a file the id is kept in memory only.
func (d *DeviceInfo) SaveDeviceID(deviceID string) error {
	d.Identity.ID = deviceID
	if d.DeviceInfoFile == "" {
		return nil
	}
	return d.fileOps.WriteJsonFile(d.DeviceInfoFile, d.Identity)
}
