package channel

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strings"
)

// Sections sit one level under the root, their children two levels.
const (
	indentUnit   = "  "
	sectionBreak = "\n" + indentUnit
	childBreak   = "\n" + indentUnit + indentUnit
)

// Parse decodes a channel document and checks that it has exactly one of
// each section.
func Parse(data []byte) (*Document, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("%w: empty document", ErrMalformed)
	}
	var doc Document
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse channel: %w", err)
	}
	return &doc, nil
}

// Encode renders doc as indented XML with a declaration.
func Encode(doc *Document) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", indentUnit)
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("encode channel: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode channel: %w", err)
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// UnmarshalXML decodes the root element, counting sections so duplicates and
// omissions are reported as ErrMalformed.
func (d *Document) UnmarshalXML(dec *xml.Decoder, start xml.StartElement) error {
	if start.Name.Local != RootElement {
		return fmt.Errorf("%w: root element is %q, want %q", ErrMalformed, start.Name.Local, RootElement)
	}
	d.XMLName = start.Name

	seen := make(map[string]int, 3)
	for {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case consoleElement:
				c := &Console{}
				if err := dec.DecodeElement(c, &t); err != nil {
					return err
				}
				d.Console = c
			case statusElement:
				s := &Status{}
				if err := dec.DecodeElement(s, &t); err != nil {
					return err
				}
				d.Status = s
			case controlsElement:
				c := &Controls{}
				if err := dec.DecodeElement(c, &t); err != nil {
					return err
				}
				d.Controls = c
			default:
				if err := dec.Skip(); err != nil {
					return err
				}
				continue
			}
			seen[t.Name.Local]++
		case xml.EndElement:
			for _, name := range []string{controlsElement, consoleElement, statusElement} {
				if seen[name] != 1 {
					return fmt.Errorf("%w: expected one <%s>, found %d", ErrMalformed, name, seen[name])
				}
			}
			return nil
		}
	}
}

// MarshalXML writes each console line as a comment.
func (c Console) MarshalXML(enc *xml.Encoder, start xml.StartElement) error {
	if err := enc.EncodeToken(start); err != nil {
		return err
	}
	if err := encodeComments(enc, c.Lines); err != nil {
		return err
	}
	if len(c.Lines) > 0 {
		// The encoder only breaks lines around elements.
		if err := enc.EncodeToken(xml.CharData(sectionBreak)); err != nil {
			return err
		}
	}
	return enc.EncodeToken(start.End())
}

// UnmarshalXML collects the comments directly under Console.
func (c *Console) UnmarshalXML(dec *xml.Decoder, start xml.StartElement) error {
	return walkChildren(dec, func(t xml.StartElement) error {
		return dec.Skip()
	}, func(text string) {
		c.Lines = append(c.Lines, text)
	})
}

// MarshalXML writes the slots first, then the notes as comments.
func (c Controls) MarshalXML(enc *xml.Encoder, start xml.StartElement) error {
	if err := enc.EncodeToken(start); err != nil {
		return err
	}
	for _, s := range c.Slots {
		if err := enc.EncodeElement(s, xml.StartElement{Name: xml.Name{Local: slotElement}}); err != nil {
			return err
		}
	}
	if err := encodeComments(enc, c.Notes); err != nil {
		return err
	}
	if len(c.Slots) == 0 && len(c.Notes) > 0 {
		if err := enc.EncodeToken(xml.CharData(sectionBreak)); err != nil {
			return err
		}
	}
	return enc.EncodeToken(start.End())
}

// UnmarshalXML collects Command slots in document order plus comments.
func (c *Controls) UnmarshalXML(dec *xml.Decoder, start xml.StartElement) error {
	return walkChildren(dec, func(t xml.StartElement) error {
		if t.Name.Local != slotElement {
			return dec.Skip()
		}
		s := &Slot{}
		if err := dec.DecodeElement(s, &t); err != nil {
			return err
		}
		c.Slots = append(c.Slots, s)
		return nil
	}, func(text string) {
		c.Notes = append(c.Notes, text)
	})
}

// encodeComments writes one comment per line at section-child depth.
func encodeComments(enc *xml.Encoder, lines []string) error {
	for _, line := range lines {
		if err := enc.EncodeToken(xml.CharData(childBreak)); err != nil {
			return err
		}
		if err := enc.EncodeToken(xml.Comment(sanitizeComment(line))); err != nil {
			return err
		}
	}
	return nil
}

// walkChildren visits the direct children of the current element until its
// end tag.
func walkChildren(dec *xml.Decoder, onElement func(xml.StartElement) error, onComment func(string)) error {
	for {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if err := onElement(t); err != nil {
				return err
			}
		case xml.Comment:
			onComment(strings.TrimSpace(string(t)))
		case xml.EndElement:
			return nil
		}
	}
}

// sanitizeComment keeps text legal inside <!-- -->.
func sanitizeComment(s string) string {
	for strings.Contains(s, "--") {
		s = strings.ReplaceAll(s, "--", "- -")
	}
	if strings.HasSuffix(s, "-") {
		s += " "
	}
	return s
}
