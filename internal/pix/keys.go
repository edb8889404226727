package pix

import (
	"errors"
	"regexp"
	"strings"
)

// KeyType classifies a PIX key.
type KeyType string

const (
	KeyCPF    KeyType = "CPF"
	KeyCNPJ   KeyType = "CNPJ"
	KeyPhone  KeyType = "PHONE"
	KeyEmail  KeyType = "EMAIL"
	KeyRandom KeyType = "RANDOM"
)

var (
	ErrEmptyPixKey   = errors.New("pix key cannot be empty")
	ErrInvalidPixKey = errors.New("invalid pix key format")
)

var (
	cpfPattern    = regexp.MustCompile(`^\d{11}$`)
	cnpjPattern   = regexp.MustCompile(`^\d{14}$`)
	phonePattern  = regexp.MustCompile(`^\+55\d{10,11}$`)
	emailPattern  = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	randomPattern = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)
)

// ValidatePixKey classifies key as CPF, CNPJ, phone, email or random (UUID)
// and rejects anything else. Charges are never created for a key the banks
// would refuse.
func ValidatePixKey(key string) (KeyType, error) {
	k := strings.TrimSpace(key)
	if k == "" {
		return "", ErrEmptyPixKey
	}

	switch {
	case cpfPattern.MatchString(k):
		return KeyCPF, nil
	case cnpjPattern.MatchString(k):
		return KeyCNPJ, nil
	case phonePattern.MatchString(k):
		return KeyPhone, nil
	case emailPattern.MatchString(k):
		return KeyEmail, nil
	case randomPattern.MatchString(k):
		return KeyRandom, nil
	}
	return "", ErrInvalidPixKey
}
