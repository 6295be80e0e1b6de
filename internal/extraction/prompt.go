package extraction

import (
	"fmt"
	"strings"
)

// basePrompt is the shared prompt used by all LLM providers for
// extracting transactions from receipts.
const basePrompt = `You are analyzing a purchase receipt or invoice document. Carefully read all text in the image and extract the following information:

1. **Merchant Name**: Look for the merchant name, store name, or business name at the top of the receipt. This is usually the largest text or in a header.

2. **Date**: Find the transaction date, purchase date, or invoice date on the receipt. Convert it to ISO 8601 format (YYYY-MM-DD). Look for dates near the top or bottom of the receipt. Common formats: MM/DD/YYYY, DD/MM/YYYY, or written dates.

3. **Total Amount**: Find the final total, grand total, or amount due. This is usually at the bottom of the receipt, often labeled as "TOTAL", "Amount Due", "Grand Total", or similar. Extract only the numeric value.

4. **Currency**: The currency of the total amount as a three-letter code (e.g. "CLP", "USD", "EUR").

5. **Category**: A short spending category for the purchase (e.g. "groceries", "pharmacy", "transport", "dining", "other").

Return ONLY valid JSON in this exact format:
{
  "merchant": "Store Name",
  "date": "YYYY-MM-DD",
  "amount": 0.00,
  "currency": "CLP",
  "category": "other"
}

Important:
- The merchant must be the actual store/business name from the receipt
- The date must be in YYYY-MM-DD format
- The amount must be a number (not a string)
- If you cannot find a field, use null for that field
- Do not include any text before or after the JSON
- Do not use markdown code blocks`

// buildPrompt appends caller hints to the base prompt. Hints narrow
// the model's interpretation but never change the output contract.
func buildPrompt(opts Options) string {
	var b strings.Builder
	b.WriteString(basePrompt)
	if opts.ReceiptType != "" {
		fmt.Fprintf(&b, "\n\nHint: the document is a %s.", opts.ReceiptType)
	}
	if opts.Currency != "" {
		fmt.Fprintf(&b, "\n\nHint: amounts on this receipt are expected to be in %s.", opts.Currency)
	}
	return b.String()
}
