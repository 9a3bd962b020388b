package validator

import (
	"strings"
	"testing"

	"tronrecon/internal/config"
	"tronrecon/internal/money"
	"tronrecon/internal/types"
)

func testConfig() *config.Config {
	cfg := config.Load()
	cfg.WalletAddress = "TMerchantWalletAddress0000000001"
	return cfg
}

func TestAddressValidShapes(t *testing.T) {
	valid := "TLyqzVGLV1srkB7dToTAEqgDSfPtXRJZYH"
	if !Address(valid) {
		t.Errorf("expected %s to be valid", valid)
	}
}

func TestAddressRejectsWrongLength(t *testing.T) {
	if Address("TooShort") {
		t.Error("expected short address to be rejected")
	}
}

func TestAddressRejectsAllZero(t *testing.T) {
	allZero := "T" + strings.Repeat("0", 33)
	if Address(allZero) {
		t.Error("expected all-zero address to be rejected")
	}
}

func TestAddressRejectsNonBase58Chars(t *testing.T) {
	// 'I', 'O', '0', 'l' are excluded from base58
	if Address("TI0OlOlOlOlOlOlOlOlOlOlOlOlOlOlOlO") {
		t.Error("expected address with non-base58 characters to be rejected")
	}
}

func TestAmountRejectsNonPositive(t *testing.T) {
	cfg := testConfig()
	if err := Amount(money.FromFloat(0), types.USDT, cfg); err == nil {
		t.Error("expected zero amount to be rejected")
	}
	if err := Amount(money.FromFloat(-5), types.USDT, cfg); err == nil {
		t.Error("expected negative amount to be rejected")
	}
}

func TestAmountRangeByCurrency(t *testing.T) {
	cfg := testConfig()
	if err := Amount(money.FromFloat(0.05), types.USDT, cfg); err == nil {
		t.Error("expected below-minimum USDT amount to be rejected")
	}
	if err := Amount(money.FromFloat(5), types.USDT, cfg); err != nil {
		t.Errorf("expected valid USDT amount to pass, got %v", err)
	}
	if err := Amount(money.FromFloat(0.5), types.TRX, cfg); err == nil {
		t.Error("expected below-minimum TRX amount to be rejected")
	}
}

func TestAmountRejectsUnsupportedCurrency(t *testing.T) {
	cfg := testConfig()
	if err := Amount(money.FromFloat(5), types.Currency("DOGE"), cfg); err == nil {
		t.Error("expected unsupported currency to be rejected")
	}
}

func TestDescriptionAllowsEmpty(t *testing.T) {
	if err := Description("", 500); err != nil {
		t.Errorf("expected empty description to pass, got %v", err)
	}
}

func TestDescriptionRejectsSQLKeyword(t *testing.T) {
	if err := Description("please DROP the table", 500); err == nil {
		t.Error("expected SQL keyword to be rejected")
	}
}

func TestDescriptionRejectsKeywordSubstringInsideWord(t *testing.T) {
	// "selection" contains "select" and is rejected as a plain substring,
	// not just a whole-word match.
	if err := Description("my selection of items", 500); err == nil {
		t.Error("expected a keyword substring inside a longer word to be rejected")
	}
}

func TestDescriptionRejectsScriptTag(t *testing.T) {
	if err := Description("<script>alert(1)</script>", 500); err == nil {
		t.Error("expected script tag to be rejected")
	}
}

func TestDescriptionRejectsForbiddenChars(t *testing.T) {
	if err := Description(`order "special"`, 500); err == nil {
		t.Error("expected quote character to be rejected")
	}
}

func TestDescriptionRejectsNewlinesCarriageReturnsAndTabs(t *testing.T) {
	for _, s := range []string{"line one\nline two", "line one\rline two", "col1\tcol2"} {
		if err := Description(s, 500); err == nil {
			t.Errorf("expected %q to be rejected", s)
		}
	}
}

func TestDescriptionRejectsTooLong(t *testing.T) {
	long := make([]byte, 501)
	for i := range long {
		long[i] = 'a'
	}
	if err := Description(string(long), 500); err == nil {
		t.Error("expected over-length description to be rejected")
	}
}

func TestSenderRejectsMerchantSelfTransfer(t *testing.T) {
	wallet := "TLyqzVGLV1srkB7dToTAEqgDSfPtXRJZYH"
	if err := Sender(wallet, wallet, nil); err == nil {
		t.Error("expected self-transfer to be rejected")
	}
}

func TestSenderRejectsBlacklisted(t *testing.T) {
	sender := "TSenderAddressForTestingPurpose123"
	if err := Sender(sender, "TMerchantWallet", []string{sender}); err == nil {
		t.Error("expected blacklisted sender to be rejected")
	}
}

func TestFreshnessRejectsOld(t *testing.T) {
	now := int64(1_000_000_000_000)
	old := now - int64(3*3600*1000)
	if err := Freshness(old, now, 2, 5); err == nil {
		t.Error("expected stale transaction to be rejected")
	}
}

func TestFreshnessRejectsFarFuture(t *testing.T) {
	now := int64(1_000_000_000_000)
	future := now + int64(10*60*1000)
	if err := Freshness(future, now, 2, 5); err == nil {
		t.Error("expected far-future transaction to be rejected")
	}
}

func TestFreshnessAllowsWithinWindow(t *testing.T) {
	now := int64(1_000_000_000_000)
	recent := now - int64(30*60*1000)
	if err := Freshness(recent, now, 2, 5); err != nil {
		t.Errorf("expected recent transaction to pass, got %v", err)
	}
}

func TestConfirmationsPassesWhenAlreadyConfirmed(t *testing.T) {
	cfg := testConfig()
	if err := Confirmations(true, 0, types.USDT, cfg); err != nil {
		t.Errorf("expected confirmed=true to short-circuit, got %v", err)
	}
}

func TestConfirmationsRejectsBelowMinimum(t *testing.T) {
	cfg := testConfig()
	if err := Confirmations(false, 5, types.USDT, cfg); err == nil {
		t.Error("expected insufficient confirmations to be rejected")
	}
}

func TestUSDTContractRejectsWrongContract(t *testing.T) {
	if err := USDTContract(types.USDT, "TFakeContractAddress00000000000001"); err == nil {
		t.Error("expected non-official contract to be rejected")
	}
}

func TestUSDTContractAcceptsOfficial(t *testing.T) {
	if err := USDTContract(types.USDT, OfficialUSDTContract); err != nil {
		t.Errorf("expected official contract to pass, got %v", err)
	}
}

func TestUSDTContractIgnoredForTRX(t *testing.T) {
	if err := USDTContract(types.TRX, "anything"); err != nil {
		t.Errorf("expected TRX to skip contract check, got %v", err)
	}
}

func TestTelegramUserID(t *testing.T) {
	cases := map[string]bool{
		"12345":  true,
		"0":      false,
		"-5":     false,
		"abc":    false,
		"":       false,
	}
	for in, want := range cases {
		if got := TelegramUserID(in); got != want {
			t.Errorf("TelegramUserID(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestFormIDShape(t *testing.T) {
	if !FormID("123e4567-e89b-12d3-a456-426614174000") {
		t.Error("expected canonical UUID to be accepted")
	}
	if FormID("not-a-uuid") {
		t.Error("expected malformed id to be rejected")
	}
}
