package services

import "github.com/google/uuid"

// CodeGenerator returns a fresh access code.
type CodeGenerator func() (string, error)

// NewAccessCode returns a random (version 4) UUID string. uuid.NewRandom reads
// from crypto/rand, giving 122 bits of entropy per code.
func NewAccessCode() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
