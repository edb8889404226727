package pix

import (
	"fmt"
	"strings"
	"unicode"

	qrcode "github.com/skip2/go-qrcode"
	"golang.org/x/text/unicode/norm"
)

// EMV tag identifiers (Merchant-Presented QR, Brazilian PIX profile).
const (
	idPayloadFormatIndicator = "00"
	idMerchantAccountInfo    = "26"
	idMerchantCategoryCode   = "52"
	idTransactionCurrency    = "53"
	idTransactionAmount      = "54"
	idCountryCode            = "58"
	idMerchantName           = "59"
	idMerchantCity           = "60"
	idAdditionalData         = "62"
	idCRC16                  = "63"
)

const (
	guiPix      = "br.gov.bcb.pix"
	currencyBRL = "986" // ISO 4217 numeric
	countryBR   = "BR"

	maxMerchantName = 25
	maxMerchantCity = 15
	maxTxRef        = 25
	maxDescription  = 72

	qrImageSize = 512
)

// Payload is the generated PIX charge artifact: the EMV text payload (what
// the payer pastes into their bank app) and the same payload rendered as a
// PNG QR code. Regenerating with identical inputs yields identical bytes.
type Payload struct {
	QRCodeText string
	PNG        []byte
}

// Encode builds the EMV TLV payload for a PIX charge. Field order is fixed
// by the EMV standard; the payer's bank re-renders this exact string, so any
// nondeterminism here would show the buyer a mismatching code.
//
// amountCents of zero omits the amount field entirely (open-value charge).
func Encode(pixKey, merchantName, merchantCity string, amountCents int64, transactionRef string, description *string) (*Payload, error) {
	if _, err := ValidatePixKey(pixKey); err != nil {
		return nil, err
	}

	var b strings.Builder

	writeTLV(&b, idPayloadFormatIndicator, "01")

	// Tag 26 nests the PIX GUI and the receiving key.
	var account strings.Builder
	writeTLV(&account, "00", guiPix)
	writeTLV(&account, "01", strings.TrimSpace(pixKey))
	writeTLV(&b, idMerchantAccountInfo, account.String())

	writeTLV(&b, idMerchantCategoryCode, "0000")
	writeTLV(&b, idTransactionCurrency, currencyBRL)

	if amountCents > 0 {
		writeTLV(&b, idTransactionAmount, formatAmount(amountCents))
	}

	writeTLV(&b, idCountryCode, countryBR)
	writeTLV(&b, idMerchantName, sanitizeField(merchantName, maxMerchantName))
	writeTLV(&b, idMerchantCity, sanitizeField(merchantCity, maxMerchantCity))

	var additional strings.Builder
	if ref := sanitizeTxRef(transactionRef); ref != "" {
		writeTLV(&additional, "05", ref)
	}
	if description != nil && *description != "" {
		desc := *description
		if len(desc) > maxDescription {
			desc = desc[:maxDescription]
		}
		writeTLV(&additional, "08", desc)
	}
	writeTLV(&b, idAdditionalData, additional.String())

	// The CRC covers everything so far plus the literal "6304" (the CRC
	// field's own tag and length, value still missing).
	payload := b.String() + idCRC16 + "04"
	crc := fmt.Sprintf("%04X", crc16ccitt([]byte(payload)))
	text := payload + crc

	png, err := qrcode.Encode(text, qrcode.Medium, qrImageSize)
	if err != nil {
		return nil, fmt.Errorf("render qr image: %w", err)
	}

	return &Payload{QRCodeText: text, PNG: png}, nil
}

// writeTLV appends tag + 2-digit decimal byte length + value.
func writeTLV(b *strings.Builder, tag, value string) {
	fmt.Fprintf(b, "%s%02d%s", tag, len(value), value)
}

// formatAmount renders cents as a decimal string with exactly two fraction
// digits, e.g. 1999 -> "19.99".
func formatAmount(cents int64) string {
	return fmt.Sprintf("%d.%02d", cents/100, cents%100)
}

// sanitizeField strips accents, uppercases, keeps only letters, digits and
// spaces, and truncates to max bytes. Banks reject payloads with anything
// fancier in the merchant fields.
func sanitizeField(s string, max int) string {
	decomposed := norm.NFD.String(s)
	var out strings.Builder
	for _, r := range decomposed {
		if unicode.Is(unicode.Mn, r) {
			continue // combining accent mark
		}
		r = unicode.ToUpper(r)
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == ' ' {
			out.WriteRune(r)
		}
	}
	res := out.String()
	if len(res) > max {
		res = res[:max]
	}
	return strings.TrimSpace(res)
}

// sanitizeTxRef keeps only alphanumerics and truncates to 25 characters.
func sanitizeTxRef(ref string) string {
	var out strings.Builder
	for _, r := range ref {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			out.WriteRune(r)
		}
	}
	res := out.String()
	if len(res) > maxTxRef {
		res = res[:maxTxRef]
	}
	return res
}
