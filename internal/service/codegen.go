package service

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/google/uuid"
)

// maxCodeAttempts bounds retries when a generated code hits a unique
// constraint.
const maxCodeAttempts = 3

// The first six bytes of a v4 uuid carry no version or variant bits.
func randomHex(n int) string {
	u := uuid.New()
	return strings.ToUpper(hex.EncodeToString(u[:n]))
}

// newOrderCode returns ORD- followed by 8 upper-case hex digits.
func newOrderCode() string {
	return "ORD-" + randomHex(4)
}

// newTransactionCode returns TXN- followed by 12 upper-case hex digits.
func newTransactionCode() string {
	return "TXN-" + randomHex(6)
}

// newReceipt is used when the gateway confirms without a receipt number.
func newReceipt() string {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "RCP" + randomHex(3)
	}
	return fmt.Sprintf("RCP%06d", n.Int64())
}
