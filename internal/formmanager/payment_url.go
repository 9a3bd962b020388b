package formmanager

import (
	"fmt"

	"tronrecon/internal/types"
	"tronrecon/internal/validator"
)

// GeneratePaymentURL returns the tronlink:// deep-link URI for form.
func GeneratePaymentURL(form types.PaymentForm) string {
	url := fmt.Sprintf("tronlink://send?address=%s&amount=%s", form.WalletAddress, form.Amount.String())
	if form.Currency == types.USDT {
		url += "&token=" + validator.OfficialUSDTContract
	}
	return url
}

// GeneratePaymentQRData returns the tron: URI suitable for QR encoding by
// the host; this package only produces the string, never a raster image.
func GeneratePaymentQRData(form types.PaymentForm) string {
	url := fmt.Sprintf("tron:%s?amount=%s", form.WalletAddress, form.Amount.String())
	if form.Currency == types.USDT {
		url += "&token=" + validator.OfficialUSDTContract
	}
	return url
}
