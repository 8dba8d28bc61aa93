package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"flowwatch/internal/storage"
)

// Show prints recent alerts and exit recommendations.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show alerts")
	}
	if closeStore != nil {
		defer closeStore()
	}

	alerts, err := store.ListRecentAlerts(ctx, opts.Limit)
	if err != nil {
		return err
	}
	recs, err := store.ListRecentRecommendations(ctx, opts.Limit)
	if err != nil {
		return err
	}

	if len(alerts) == 0 && len(recs) == 0 {
		fmt.Fprintln(os.Stdout, "no alerts found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tSymbol\tKind\tSeverity\tDetail")
	for _, row := range alerts {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\n",
			row.AlertTS.UTC().Format(time.RFC3339),
			row.Symbol,
			row.Kind,
			row.Severity,
			alertDetail(row),
		)
	}
	writer.Flush()

	if len(recs) == 0 {
		return nil
	}

	fmt.Fprintln(os.Stdout)
	writer = tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Recommended (UTC)\tSymbol\tReason\tTriggering Alert")
	for _, rec := range recs {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\n",
			rec.RecommendedAt.UTC().Format(time.RFC3339),
			rec.Symbol,
			rec.Reason,
			rec.TriggeringAlertID,
		)
	}
	writer.Flush()
	return nil
}

func alertDetail(row storage.AlertRow) string {
	parts := make([]string, 0, 2)
	if row.OrderSize != nil && row.PriceLevel != nil {
		parts = append(parts, fmt.Sprintf("%d shares @ %s", *row.OrderSize, row.PriceLevel.StringFixed(2)))
	}
	if row.VolumeRatio != nil {
		parts = append(parts, fmt.Sprintf("%.2fx average volume", *row.VolumeRatio))
	}
	return strings.Join(parts, ", ")
}
