package report

import (
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/punchamoorthee/referralops/internal/domain"
)

const RewardsSheet = "Rewards"

var rewardHeaders = []string{
	"Reward ID", "User ID", "Referral ID", "Type", "Tier", "Amount", "Currency",
	"Status", "Approved By", "Approved At", "Paid At", "Created At",
}

// WriteRewards renders rewards as an XLSX workbook. Amounts are written as
// text so no precision is lost to spreadsheet floats.
func WriteRewards(w io.Writer, rewards []domain.Reward) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", RewardsSheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 11, Color: "#FFFFFF"},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#4472C4"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		return fmt.Errorf("header style: %w", err)
	}

	for i, h := range rewardHeaders {
		c, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return fmt.Errorf("header cell %d: %w", i+1, err)
		}
		if err := f.SetCellValue(RewardsSheet, c, h); err != nil {
			return fmt.Errorf("write header %q: %w", h, err)
		}
	}
	last, err := excelize.ColumnNumberToName(len(rewardHeaders))
	if err != nil {
		return fmt.Errorf("last column: %w", err)
	}
	if err := f.SetCellStyle(RewardsSheet, "A1", last+"1", headerStyle); err != nil {
		return fmt.Errorf("style header: %w", err)
	}
	if err := f.SetColWidth(RewardsSheet, "A", "C", 38); err != nil {
		return fmt.Errorf("set column width: %w", err)
	}
	if err := f.SetColWidth(RewardsSheet, "D", last, 18); err != nil {
		return fmt.Errorf("set column width: %w", err)
	}

	for i, r := range rewards {
		row := []any{
			r.ID, r.UserID, r.ReferralID, string(r.RewardType), string(r.Tier), r.Amount.String(), r.Currency,
			string(r.Status), deref(r.ApprovedBy), formatTime(r.ApprovedAt), formatTime(r.PaidAt), formatTime(&r.CreatedAt),
		}
		start, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return fmt.Errorf("row cell %d: %w", i+2, err)
		}
		if err := f.SetSheetRow(RewardsSheet, start, &row); err != nil {
			return fmt.Errorf("write row %d: %w", i+2, err)
		}
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
