package extraction

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// parseTransactionJSON parses the JSON response from an LLM provider.
func parseTransactionJSON(text string) (*Transaction, error) {
	text = strings.TrimSpace(text)

	// Remove opening markdown code blocks
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSpace(text)

	// Find the JSON object boundaries - look for first { and last }
	startIdx := strings.Index(text, "{")
	if startIdx == -1 {
		return nil, fmt.Errorf("no JSON object found in response")
	}

	endIdx := strings.LastIndex(text, "}")
	if endIdx == -1 || endIdx < startIdx {
		return nil, fmt.Errorf("invalid JSON object in response")
	}

	text = text[startIdx : endIdx+1]

	var tx Transaction
	if err := json.Unmarshal([]byte(text), &tx); err != nil {
		return nil, fmt.Errorf("unmarshaling json: %w", err)
	}

	// Validate and normalize the date
	if tx.Date != "" {
		parsedDate, err := time.Parse("2006-01-02", tx.Date)
		if err != nil {
			// Try other common formats
			formats := []string{
				"2006/01/02",
				"01/02/2006",
				"02-01-2006",
			}
			parsed := false
			for _, format := range formats {
				if d, e := time.Parse(format, tx.Date); e == nil {
					tx.Date = d.Format("2006-01-02")
					parsed = true
					break
				}
			}
			if !parsed {
				// If we can't parse it, use today's date
				tx.Date = time.Now().Format("2006-01-02")
			}
		} else {
			tx.Date = parsedDate.Format("2006-01-02")
		}
	} else {
		// Default to today if no date found
		tx.Date = time.Now().Format("2006-01-02")
	}

	tx.Merchant = strings.TrimSpace(tx.Merchant)
	if tx.Merchant == "" {
		tx.Merchant = "Unknown Merchant"
	}

	tx.Currency = strings.ToUpper(strings.TrimSpace(tx.Currency))

	tx.Category = strings.ToLower(strings.TrimSpace(tx.Category))
	if tx.Category == "" {
		tx.Category = "other"
	}

	// Amount is kept as a float here (for JSON unmarshaling from the
	// model); the transaction service converts it to integer cents.

	return &tx, nil
}
