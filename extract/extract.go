// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


// Package extract turns uploaded document bytes into plain text.
//
// Supported formats are chosen by file extension, case-insensitively:
// .pdf, .txt, .md, .xml and .xlsx. Anything else, including legacy .xls
// workbooks, fails with core.ErrUnsupportedFormat. Malformed input of a
// supported format fails with core.ErrExtractionFailed.
package extract

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"github.com/poiesic/ragchat/core"
	"github.com/xuri/excelize/v2"
)

type extractor func(raw []byte) (string, error)

var extractors = map[string]extractor{
	".pdf":  pdfText,
	".txt":  plainText,
	".md":   plainText,
	".xml":  xmlText,
	".xlsx": workbookText,
}

// Supported reports whether filename has an extension Text can handle.
func Supported(filename string) bool {
	_, ok := extractors[strings.ToLower(filepath.Ext(filename))]
	return ok
}

// Extensions returns the supported extensions.
func Extensions() []string {
	return []string{".pdf", ".txt", ".md", ".xml", ".xlsx"}
}

// Text extracts the plain text of raw according to filename's extension.
func Text(filename string, raw []byte) (string, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	fn, ok := extractors[ext]
	if !ok {
		if ext == "" {
			ext = "(none)"
		}
		return "", fmt.Errorf("%w: %s", core.ErrUnsupportedFormat, ext)
	}
	text, err := fn(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", core.ErrExtractionFailed, filename, err)
	}
	return text, nil
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

func plainText(raw []byte) (string, error) {
	raw = bytes.TrimPrefix(raw, utf8BOM)
	if !utf8.Valid(raw) {
		return "", errors.New("text is not valid UTF-8")
	}
	return string(raw), nil
}

// pdfText joins the plain text of every page with newlines.
func pdfText(raw []byte) (text string, err error) {
	// The PDF parser panics on some malformed inputs
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed pdf: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return "", err
	}

	pages := make([]string, 0, reader.NumPage())
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			pages = append(pages, "")
			continue
		}
		content, err := page.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("page %d: %w", i, err)
		}
		pages = append(pages, content)
	}
	return strings.Join(pages, "\n"), nil
}

// xmlText joins every non-blank text node with single spaces.
func xmlText(raw []byte) (string, error) {
	decoder := xml.NewDecoder(bytes.NewReader(raw))
	var parts []string
	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
		if data, ok := tok.(xml.CharData); ok {
			if s := strings.TrimSpace(string(data)); s != "" {
				parts = append(parts, s)
			}
		}
	}
	if parts == nil {
		return "", nil
	}
	return strings.Join(parts, " "), nil
}

// workbookText renders each sheet as its name followed by tab-separated rows.
func workbookText(raw []byte) (string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(raw))
	if err != nil {
		return "", err
	}
	defer f.Close()

	var b strings.Builder
	for i, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return "", fmt.Errorf("sheet %q: %w", sheet, err)
		}
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(sheet)
		b.WriteString("\n")
		for _, row := range rows {
			b.WriteString(strings.Join(row, "\t"))
			b.WriteString("\n")
		}
	}
	return b.String(), nil
}
