package extract

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

const docxBody = "word/document.xml"

// extractDOCX reads paragraphs and table rows from the main document part.
// Table cells of one row are joined with " | ".
func extractDOCX(data []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("not a docx archive: %w", err)
	}

	var part *zip.File
	for _, f := range zr.File {
		if f.Name == docxBody {
			part = f
			break
		}
	}
	if part == nil {
		return "", fmt.Errorf("%s missing", docxBody)
	}

	rc, err := part.Open()
	if err != nil {
		return "", err
	}
	defer rc.Close()

	return walkDocumentXML(rc)
}

func walkDocumentXML(r io.Reader) (string, error) {
	var (
		blocks    []string
		para      strings.Builder
		inText    bool
		cellDepth int
		cellParas []string
		rowCells  []string
	)

	dec := xml.NewDecoder(r)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "p":
				para.Reset()
			case "t":
				inText = true
			case "tab":
				para.WriteByte('\t')
			case "br", "cr":
				para.WriteByte('\n')
			case "tr":
				if cellDepth == 0 {
					rowCells = rowCells[:0]
				}
			case "tc":
				cellDepth++
				if cellDepth == 1 {
					cellParas = cellParas[:0]
				}
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				s := strings.TrimSpace(para.String())
				if s == "" {
					continue
				}
				if cellDepth > 0 {
					cellParas = append(cellParas, s)
				} else {
					blocks = append(blocks, s)
				}
			case "tc":
				cellDepth--
				if cellDepth == 0 {
					rowCells = append(rowCells, strings.Join(cellParas, " "))
				}
			case "tr":
				if cellDepth == 0 {
					if row := joinNonEmpty(rowCells, " | "); row != "" {
						blocks = append(blocks, row)
					}
				}
			}
		case xml.CharData:
			if inText {
				para.Write(t)
			}
		}
	}
	return strings.Join(blocks, "\n\n"), nil
}

func joinNonEmpty(items []string, sep string) string {
	kept := make([]string, 0, len(items))
	for _, s := range items {
		if s = strings.TrimSpace(s); s != "" {
			kept = append(kept, s)
		}
	}
	return strings.Join(kept, sep)
}
