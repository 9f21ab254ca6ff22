package extract

import (
	"archive/zip"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

// docx files are zip archives; the body text lives in word/document.xml as
// w:p (paragraph) elements containing w:t (text) runs. We decode just those
// two element kinds and join paragraphs with newlines.

// docxText extracts plain text from a .docx file.
func docxText(path string) (string, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return "", fmt.Errorf("extract: open docx %s: %w", path, err)
	}
	defer zr.Close()

	for _, f := range zr.File {
		if f.Name != "word/document.xml" {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return "", fmt.Errorf("extract: open docx body %s: %w", path, err)
		}
		defer rc.Close()
		text, err := docxBodyText(rc)
		if err != nil {
			return "", fmt.Errorf("extract: parse docx body %s: %w", path, err)
		}
		return text, nil
	}
	return "", fmt.Errorf("extract: docx %s has no word/document.xml", path)
}

// docxBodyText streams through document.xml collecting text runs, inserting
// a newline at each paragraph end.
func docxBodyText(r io.Reader) (string, error) {
	dec := xml.NewDecoder(r)
	var sb strings.Builder
	var inText bool

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "t" {
				inText = true
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				sb.WriteString("\n")
			}
		case xml.CharData:
			if inText {
				sb.Write(t)
			}
		}
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}
