// Package promptpay builds EMVCo-compatible PromptPay QR payloads for
// Thai QR payments. Payloads follow the Thai QR Payment standard: merchant
// account information under tag 29 with the PromptPay AID, currency 764
// (THB), country TH, and a CRC-16/CCITT checksum in tag 63.
package promptpay

import (
	"fmt"
	"strings"
)

const (
	payloadFormatIndicator = "000201"
	pointOfInitiation      = "010212" // dynamic QR, single use
	promptPayAID           = "A000000677010111"
	merchantCategoryCode   = "52044814"
	transactionCurrency    = "5303764" // THB
	countryCode            = "5802TH"
)

// Request describes a single PromptPay charge.
type Request struct {
	// TargetID is the receiving PromptPay account: a 10-digit phone number
	// or a 13-digit national/tax ID, digits only.
	TargetID     string
	MerchantName string
	Amount       float64
	Ref1         string
	Ref2         string
}

// BuildPayload assembles the complete QR payload including the CRC suffix.
func BuildPayload(req Request) (string, error) {
	target, err := formatTarget(req.TargetID)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString(payloadFormatIndicator)
	b.WriteString(pointOfInitiation)

	// Tag 29: merchant account information (AID + PromptPay target)
	merchantInfo := field("00", promptPayAID) + target
	b.WriteString(field("29", merchantInfo))

	b.WriteString(merchantCategoryCode)
	b.WriteString(transactionCurrency)

	if req.Amount > 0 {
		b.WriteString(field("54", fmt.Sprintf("%.2f", req.Amount)))
	}

	b.WriteString(countryCode)

	name := truncateBytes(req.MerchantName, 25)
	if name != "" {
		b.WriteString(field("59", name))
	}

	// Tag 62: additional data (bill references)
	var additional strings.Builder
	if req.Ref1 != "" {
		additional.WriteString(field("01", truncateBytes(req.Ref1, 25)))
	}
	if req.Ref2 != "" {
		additional.WriteString(field("02", truncateBytes(req.Ref2, 25)))
	}
	if additional.Len() > 0 {
		b.WriteString(field("62", additional.String()))
	}

	b.WriteString("6304")
	payload := b.String()
	return payload + fmt.Sprintf("%04X", Checksum(payload)), nil
}

// VerifyPayload reports whether the trailing CRC matches the payload body.
func VerifyPayload(payload string) bool {
	if len(payload) < 8 || !strings.Contains(payload, "6304") {
		return false
	}
	body := payload[:len(payload)-4]
	if !strings.HasSuffix(body, "6304") {
		return false
	}
	return fmt.Sprintf("%04X", Checksum(body)) == payload[len(payload)-4:]
}

// Checksum computes CRC-16/CCITT-FALSE (poly 0x1021, init 0xFFFF) over data.
func Checksum(data string) uint16 {
	crc := uint16(0xFFFF)
	for _, byt := range []byte(data) {
		crc ^= uint16(byt) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = (crc << 1) ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

// formatTarget encodes the PromptPay account as a tagged subfield.
// Phone numbers become 0066 plus the number without its leading zero.
func formatTarget(id string) (string, error) {
	clean := digitsOnly(id)
	switch len(clean) {
	case 10: // mobile number, e.g. 0812345678
		return field("01", "0066"+clean[1:]), nil
	case 13: // national ID or tax ID
		return field("02", clean), nil
	default:
		return "", fmt.Errorf("promptpay: target must be a 10-digit phone or 13-digit ID, got %d digits", len(clean))
	}
}

func field(id, value string) string {
	return fmt.Sprintf("%s%02d%s", id, len(value), value)
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func truncateBytes(s string, n int) string {
	b := []byte(s)
	if len(b) <= n {
		return s
	}
	b = b[:n]
	// Back off any split multibyte rune
	for len(b) > 0 && b[len(b)-1]&0xC0 == 0x80 {
		b = b[:len(b)-1]
	}
	return string(b)
}
