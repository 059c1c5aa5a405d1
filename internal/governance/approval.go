package governance

import (
	"os"
	"strings"
)

// ApprovalSource supplies the human operator's verdict for gated runs.
type ApprovalSource interface {
	Read() (string, error)
}

// FileApproval reads the verdict from a file the operator writes. A missing
// file means no approval has been granted yet, which denies the run.
type FileApproval struct {
	Path string
}

func (f FileApproval) Read() (string, error) {
	data, err := os.ReadFile(f.Path)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// StaticApproval returns a fixed verdict.
type StaticApproval string

func (s StaticApproval) Read() (string, error) { return string(s), nil }

// Approved reports whether a verdict counts as operator approval.
func Approved(verdict string) bool {
	switch strings.ToLower(strings.TrimSpace(verdict)) {
	case "approve", "approved", "yes", "y":
		return true
	}
	return false
}
