package reporting

import (
	"fmt"
	"strings"

	"bondcurve-ledger/internal/domain"
)

// RenderCSV renders journal entries as CSV string, one row per operation.
// Amounts are raw base units.
func RenderCSV(ops []*domain.OperationRecord) string {
	var sb strings.Builder

	// Header
	sb.WriteString("sequence,operation_id,kind,user,timestamp,")
	sb.WriteString("base_in,base_out,tokens_in,tokens_out,protocol_fee,referral_fee,referrer,")
	sb.WriteString("price_before,price_after,swept_days\n")

	// Rows
	for _, op := range ops {
		referrer := ""
		if op.Referrer != nil {
			referrer = op.Referrer.String()
		}
		sb.WriteString(fmt.Sprintf("%d,%s,%s,%s,%d,%d,%d,%d,%d,%d,%d,%s,%d,%d,%d\n",
			op.Sequence,
			op.OperationID,
			op.Kind,
			op.User,
			op.Timestamp,
			op.BaseIn,
			op.BaseOut,
			op.TokensIn,
			op.TokensOut,
			op.ProtocolFee,
			op.ReferralFee,
			referrer,
			op.PriceBefore,
			op.PriceAfter,
			op.SweptDays,
		))
	}

	return sb.String()
}
