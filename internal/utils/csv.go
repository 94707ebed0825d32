package utils

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"trendbot/internal/domain"
)

var candleHeader = []string{"open_time", "close_time", "open", "high", "low", "close", "volume"}

// WriteCandlesToCSV saves a candle series, oldest first.
func WriteCandlesToCSV(candles []domain.Candle, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	if err := writer.Write(candleHeader); err != nil {
		return err
	}
	for _, c := range candles {
		record := []string{
			c.OpenTime.UTC().Format(time.RFC3339),
			c.CloseTime.UTC().Format(time.RFC3339),
			c.Open.String(),
			c.High.String(),
			c.Low.String(),
			c.Close.String(),
			c.Volume.String(),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	return writer.Error()
}

// ReadCandlesFromCSV loads a candle series written by WriteCandlesToCSV.
func ReadCandlesFromCSV(filename string) ([]domain.Candle, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = len(candleHeader)

	// Header row
	if _, err := reader.Read(); err != nil {
		return nil, fmt.Errorf("reading header of %s: %w", filename, err)
	}

	var candles []domain.Candle
	for line := 2; ; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading %s line %d: %w", filename, line, err)
		}
		candle, err := parseCandleRecord(record)
		if err != nil {
			return nil, fmt.Errorf("parsing %s line %d: %w", filename, line, err)
		}
		candles = append(candles, candle)
	}
	return candles, nil
}

func parseCandleRecord(record []string) (domain.Candle, error) {
	openTime, err := time.Parse(time.RFC3339, record[0])
	if err != nil {
		return domain.Candle{}, fmt.Errorf("open time %q: %w", record[0], err)
	}
	closeTime, err := time.Parse(time.RFC3339, record[1])
	if err != nil {
		return domain.Candle{}, fmt.Errorf("close time %q: %w", record[1], err)
	}

	prices := make([]decimal.Decimal, 5)
	for i, raw := range record[2:7] {
		prices[i], err = decimal.NewFromString(raw)
		if err != nil {
			return domain.Candle{}, fmt.Errorf("%s %q: %w", candleHeader[i+2], raw, err)
		}
	}
	return domain.Candle{
		OpenTime:  openTime,
		CloseTime: closeTime,
		Open:      prices[0],
		High:      prices[1],
		Low:       prices[2],
		Close:     prices[3],
		Volume:    prices[4],
	}, nil
}
