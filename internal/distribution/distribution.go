// Package distribution talks to the model distribution service: it fetches
// named model artifacts to local storage, deletes them, and lists what is on disk.
package distribution

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

// DownloadType selects how GetModel balances the local copy against the server.
type DownloadType int

const (
	// LocalModel returns the local copy when one exists and only fetches otherwise.
	LocalModel DownloadType = iota
	// LocalModelUpdateInBackground returns the local copy immediately and refreshes it
	// from the server in the background.
	LocalModelUpdateInBackground
	// LatestModel always consults the server and downloads when the local copy is stale.
	LatestModel
)

func (t DownloadType) String() string {
	switch t {
	case LocalModel:
		return "local"
	case LocalModelUpdateInBackground:
		return "background"
	case LatestModel:
		return "latest"
	default:
		return fmt.Sprintf("DownloadType(%d)", int(t))
	}
}

// ParseDownloadType maps config/CLI spellings to a DownloadType. Empty means LocalModel.
func ParseDownloadType(s string) (DownloadType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "local":
		return LocalModel, nil
	case "background", "local-update-in-background":
		return LocalModelUpdateInBackground, nil
	case "latest":
		return LatestModel, nil
	default:
		return LocalModel, fmt.Errorf("unknown download policy: %q", s)
	}
}

// CustomModel is a model artifact present on local storage.
type CustomModel struct {
	Name string
	Path string
	Size int64
	Hash string
}

// ProgressFunc receives the downloaded fraction in [0,1]. Values never decrease within one call.
type ProgressFunc func(fraction float32)

// Service is the model distribution boundary used by the session controller.
// Calls block until the operation finishes or ctx is done.
type Service interface {
	GetModel(ctx context.Context, name string, policy DownloadType, progress ProgressFunc) (CustomModel, error)
	DeleteModel(ctx context.Context, name string) error
	ListModels(ctx context.Context) ([]CustomModel, error)
}

var validName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// ValidateName rejects names that are empty or could escape the download root.
func ValidateName(name string) error {
	if !validName.MatchString(name) || strings.Contains(name, "..") {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}
