// Package identifier derives product ids, batch ids and QR payloads.
package identifier

import (
	"encoding/base64"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/skip2/go-qrcode"
)

const (
	productIDPrefix = "PROD-"
	qrSeparator     = "|"
	qrImageSize     = 256
)

func NewProductID() string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return productIDPrefix + strings.ToUpper(raw[:10])
}

// NewBatchID draws the sequence number at random.
func NewBatchID(name, productType string, now time.Time) string {
	return BatchID(name, productType, now, rand.IntN(1000))
}

// BatchID builds BATCH-<code>-<year>-<seq>. The code comes from the type, or
// the name when the type is empty.
func BatchID(name, productType string, now time.Time, seq int) string {
	source := strings.TrimSpace(productType)
	if source == "" {
		source = strings.TrimSpace(name)
	}
	return fmt.Sprintf("BATCH-%s-%d-%03d", batchCode(strings.ToUpper(source)), now.Year(), seq%1000)
}

func batchCode(source string) string {
	words := strings.Fields(source)
	if len(words) >= 2 {
		return firstRune(words[0]) + firstRune(words[1])
	}

	letters := []rune(strings.Join(words, ""))
	code := []rune{'X', 'X'}
	for i := 0; i < len(letters) && i < 2; i++ {
		code[i] = letters[i]
	}
	return string(code)
}

func firstRune(s string) string {
	for _, r := range s {
		return string(r)
	}
	return "X"
}

func QRPayload(contractAddress, productID string) string {
	return contractAddress + qrSeparator + productID
}

// ParseQRPayload splits a payload back into contract address and product id.
func ParseQRPayload(payload string) (string, string, bool) {
	contract, productID, ok := strings.Cut(payload, qrSeparator)
	if !ok || productID == "" || strings.Contains(productID, qrSeparator) {
		return "", "", false
	}
	return contract, productID, true
}

func QRPNG(payload string, size int) ([]byte, error) {
	png, err := qrcode.Encode(payload, qrcode.Medium, size)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode qr code")
	}
	return png, nil
}

// QRImage renders the payload as a PNG data URL.
func QRImage(payload string) (string, error) {
	png, err := QRPNG(payload, qrImageSize)
	if err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}
