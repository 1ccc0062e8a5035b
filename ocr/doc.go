// Package ocr defines the contract for plugging an OCR engine into text
// extraction, used for scanned pages that carry no text operators.
package ocr
