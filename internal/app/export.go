package app

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"flowwatch/internal/storage"
)

// Export renders one symbol's stored alert history as CSV and/or a PNG chart
// of volume-spike ratios.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}
	if opts.Symbol == "" {
		return errors.New("--symbol is required")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot export")
	}
	if closeStore != nil {
		defer closeStore()
	}

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}

	from := to.Add(-24 * time.Hour)
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	alerts, err := store.ListAlertsBetween(ctx, opts.Symbol, from, to)
	if err != nil {
		return err
	}
	if len(alerts) == 0 {
		a.Logger.Info().Str("symbol", opts.Symbol).Msg("no alerts found for export window")
		return nil
	}

	downsampled := downsampleAlerts(alerts, opts.MaxPoints)
	a.Logger.Info().Int("total", len(alerts)).Int("exported", len(downsampled)).Msg("exporting alerts")

	if opts.CSVPath != "" {
		if err := writeAlertsCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeAlertsPNG(opts.PNGPath, opts.Symbol, downsampled); err != nil {
			return err
		}
	}

	return nil
}

func downsampleAlerts(alerts []storage.AlertRow, max int) []storage.AlertRow {
	if max <= 0 || len(alerts) <= max {
		return alerts
	}

	result := make([]storage.AlertRow, 0, max)
	step := float64(len(alerts)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(alerts) {
			idx = len(alerts) - 1
		}
		result = append(result, alerts[idx])
	}
	return result
}

func writeAlertsCSV(path string, alerts []storage.AlertRow) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"alert_ts", "symbol", "kind", "severity", "order_size", "price_level", "volume_ratio"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, row := range alerts {
		size, price, ratio := "", "", ""
		if row.OrderSize != nil {
			size = fmt.Sprintf("%d", *row.OrderSize)
		}
		if row.PriceLevel != nil {
			price = row.PriceLevel.String()
		}
		if row.VolumeRatio != nil {
			ratio = fmt.Sprintf("%.4f", *row.VolumeRatio)
		}
		record := []string{
			row.AlertTS.Format(time.RFC3339),
			row.Symbol,
			row.Kind,
			row.Severity,
			size,
			price,
			ratio,
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	return writer.Error()
}

func writeAlertsPNG(path, symbol string, alerts []storage.AlertRow) error {
	var x []time.Time
	var ratios []float64
	for _, row := range alerts {
		if row.VolumeRatio == nil {
			continue
		}
		x = append(x, row.AlertTS)
		ratios = append(ratios, *row.VolumeRatio)
	}
	if len(x) < 2 {
		return errors.New("need at least two volume-spike alerts to chart")
	}

	if err := ensureDir(path); err != nil {
		return err
	}

	ratioFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.2fx")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Volume ratio",
			ValueFormatter: ratioFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    symbol + " volume spikes",
				XValues: x,
				YValues: ratios,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
