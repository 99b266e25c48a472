package reporting

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// priceDecimals matches domain.PricePrecision.
const priceDecimals = 9

// RenderMarkdown renders report as Markdown string. Base amounts and prices
// are shown in whole units using decimals.
func RenderMarkdown(r *Report, decimals int32) string {
	units := func(v uint64) string {
		return decimal.NewFromUint64(v).Shift(-decimals).StringFixed(decimals)
	}
	price := func(v uint64) string {
		return decimal.NewFromUint64(v).Shift(-priceDecimals).StringFixed(priceDecimals)
	}

	var sb strings.Builder

	// Header
	sb.WriteString("# Ledger Report\n\n")
	sb.WriteString(fmt.Sprintf("Generated: %s\n\n", r.GeneratedAt.Format(time.RFC3339)))
	sb.WriteString(fmt.Sprintf("Window: %s to %s\n\n",
		time.Unix(r.From, 0).UTC().Format(time.RFC3339),
		time.Unix(r.To, 0).UTC().Format(time.RFC3339)))

	// Ledger State
	sb.WriteString("## Ledger State\n\n")
	sb.WriteString("| Metric | Value |\n")
	sb.WriteString("|--------|-------|\n")
	sb.WriteString(fmt.Sprintf("| Version | %d |\n", r.Ledger.Version))
	sb.WriteString(fmt.Sprintf("| Started | %t |\n", r.Ledger.Started))
	sb.WriteString(fmt.Sprintf("| Token Supply | %s |\n", units(r.Ledger.TokenSupply)))
	sb.WriteString(fmt.Sprintf("| Total Borrowed | %s |\n", units(r.Ledger.TotalBorrowed)))
	sb.WriteString(fmt.Sprintf("| Total Collateral | %s |\n", units(r.Ledger.TotalCollateral)))
	sb.WriteString(fmt.Sprintf("| Last Price | %s |\n", price(r.Ledger.LastPrice)))
	sb.WriteString(fmt.Sprintf("| Swept Through | %s |\n",
		time.Unix(r.Ledger.LastLiquidationDate, 0).UTC().Format("2006-01-02")))
	sb.WriteString("\n")

	// Activity
	sb.WriteString("## Activity\n\n")
	a := r.Activity
	if a.TotalOperations == 0 {
		sb.WriteString("No operations in window.\n\n")
	} else {
		sb.WriteString("| Metric | Value |\n")
		sb.WriteString("|--------|-------|\n")
		sb.WriteString(fmt.Sprintf("| Operations | %d |\n", a.TotalOperations))
		sb.WriteString(fmt.Sprintf("| Sequences | %d - %d |\n", a.FirstSequence, a.LastSequence))
		sb.WriteString(fmt.Sprintf("| Unique Users | %d |\n", a.UniqueUsers))
		sb.WriteString(fmt.Sprintf("| Base In | %s |\n", units(a.BaseIn)))
		sb.WriteString(fmt.Sprintf("| Base Out | %s |\n", units(a.BaseOut)))
		sb.WriteString(fmt.Sprintf("| Protocol Fees | %s |\n", units(a.ProtocolFees)))
		sb.WriteString(fmt.Sprintf("| Referral Fees | %s |\n", units(a.ReferralFees)))
		sb.WriteString(fmt.Sprintf("| Swept Days | %d |\n", a.SweptDays))
		sb.WriteString(fmt.Sprintf("| Price Open | %s |\n", price(a.PriceOpen)))
		sb.WriteString(fmt.Sprintf("| Price Close | %s |\n", price(a.PriceClose)))
		sb.WriteString(fmt.Sprintf("| Price High | %s |\n", price(a.PriceHigh)))
		sb.WriteString("\n")
	}

	// Operations
	sb.WriteString("## Operations by Kind\n\n")
	if len(r.Operations) > 0 {
		sb.WriteString("| Kind | Count | Base In | Base Out | Tokens In | Tokens Out | Protocol Fees | Referral Fees |\n")
		sb.WriteString("|------|-------|---------|----------|-----------|------------|---------------|---------------|\n")
		for _, row := range r.Operations {
			sb.WriteString(fmt.Sprintf("| %s | %d | %s | %s | %s | %s | %s | %s |\n",
				row.Kind, row.Count,
				units(row.BaseIn), units(row.BaseOut),
				units(row.TokensIn), units(row.TokensOut),
				units(row.ProtocolFees), units(row.ReferralFees)))
		}
	} else {
		sb.WriteString("No operations available.\n")
	}
	sb.WriteString("\n")

	// Top Users
	sb.WriteString("## Top Users\n\n")
	if len(r.TopUsers) > 0 {
		sb.WriteString("| User | Operations | Base Volume | Fees |\n")
		sb.WriteString("|------|------------|-------------|------|\n")
		for _, u := range r.TopUsers {
			sb.WriteString(fmt.Sprintf("| %s | %d | %s | %s |\n",
				u.User, u.Operations, units(u.BaseVolume), units(u.Fees)))
		}
	} else {
		sb.WriteString("No users available.\n")
	}
	sb.WriteString("\n")

	// Integrity
	sb.WriteString("## Integrity\n\n")
	sb.WriteString(fmt.Sprintf("Live loans: %d\n\n", r.Integrity.LiveLoans))
	if r.Integrity.Passed {
		sb.WriteString("**Audit passed.** Totals match loans and buckets.\n\n")
	} else {
		sb.WriteString("**Audit failed.**\n\n")
		for _, v := range r.Integrity.Violations {
			sb.WriteString(fmt.Sprintf("- %s\n", v))
		}
		sb.WriteString("\n")
	}

	return sb.String()
}
