package utils

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"sync"
)

// IDGenerator issues unique 8-character alphanumeric booking reference
// codes, the human-facing id patients quote on the phone.
type IDGenerator struct {
	usedIDs      map[string]bool
	mutex        sync.Mutex
	characterSet []rune
}

// NewIDGenerator creates a new instance of IDGenerator.
func NewIDGenerator() *IDGenerator {
	// Capital letters and numbers only, omitting easily confused
	// characters: 0, O, 1, I
	characterSet := []rune("ABCDEFGHJKLMNPQRSTUVWXYZ23456789")

	return &IDGenerator{
		usedIDs:      make(map[string]bool),
		characterSet: characterSet,
	}
}

// GenerateID creates a new unique 8-character reference code.
func (g *IDGenerator) GenerateID() (string, error) {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	maxAttempts := 100
	for attempts := 0; attempts < maxAttempts; attempts++ {
		id, err := g.generateRandomID(8)
		if err != nil {
			return "", err
		}
		if !g.usedIDs[id] {
			g.usedIDs[id] = true
			return id, nil
		}
	}

	return "", fmt.Errorf("failed to generate unique ID after %d attempts", maxAttempts)
}

// generateRandomID creates a random ID of specified length.
func (g *IDGenerator) generateRandomID(length int) (string, error) {
	result := make([]rune, length)
	charSetLength := big.NewInt(int64(len(g.characterSet)))

	for i := 0; i < length; i++ {
		randomIndex, err := rand.Int(rand.Reader, charSetLength)
		if err != nil {
			return "", err
		}
		result[i] = g.characterSet[randomIndex.Int64()]
	}

	return string(result), nil
}

// CleanupOldIDs resets the in-memory set once it grows past maxSize.
// Collision safety beyond process lifetime comes from the database id, not
// the reference code.
func (g *IDGenerator) CleanupOldIDs(maxSize int) {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	if len(g.usedIDs) > maxSize {
		g.usedIDs = make(map[string]bool)
	}
}
