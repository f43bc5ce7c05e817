package extract

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Office Open XML (docx, pptx) and OpenDocument (odt, odp, ods) files are zip packages
// whose text lives in XML parts. Text nodes are pulled out with patterns rather than a
// full XML decode; runs within a paragraph are joined, paragraphs become lines.

const (
	contentTypesPart = "[Content_Types].xml"
	docxDefaultPart  = "word/document.xml"
	odfContentPart   = "content.xml"
	docxMainType     = "application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"
)

var (
	// Override elements list PartName and ContentType in either order.
	overrideRe  = regexp.MustCompile(`<Override\s[^>]*>`)
	partNameRe  = regexp.MustCompile(`PartName="([^"]+)"`)
	contentRe   = regexp.MustCompile(`ContentType="([^"]+)"`)
	slideNameRe = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)

	docxParagraph = regexp.MustCompile(`(?s)<w:p(?:\s[^>]*[^/>])?>.*?</w:p>`)
	docxRun       = regexp.MustCompile(`<w:t(?:\s[^>]*)?>([^<]*)</w:t>`)
	pptxParagraph = regexp.MustCompile(`(?s)<a:p(?:\s[^>]*[^/>])?>.*?</a:p>`)
	pptxRun       = regexp.MustCompile(`<a:t(?:\s[^>]*)?>([^<]*)</a:t>`)
	odfBlock      = regexp.MustCompile(`(?s)<text:(p|h)(?:\s[^>]*[^/>])?>(.*?)</text:(?:p|h)>`)
	odfSpace      = regexp.MustCompile(`<text:(?:s|tab|line-break)(?:\s[^>]*)?/>`)
	xmlTag        = regexp.MustCompile(`<[^>]+>`)
)

var xmlEntities = strings.NewReplacer("&lt;", "<", "&gt;", ">", "&quot;", `"`, "&apos;", "'", "&amp;", "&")

func openPackage(content []byte, format string) (*zip.Reader, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("%s: not a zip package: %w", format, err)
	}
	return zr, nil
}

// readPart returns the named part, or ok=false when the package has no such part.
func readPart(zr *zip.Reader, name string) (data []byte, ok bool, err error) {
	for _, f := range zr.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, true, fmt.Errorf("open %s: %w", name, err)
		}
		defer rc.Close()
		data, err := io.ReadAll(rc)
		if err != nil {
			return nil, true, fmt.Errorf("read %s: %w", name, err)
		}
		return data, true, nil
	}
	return nil, false, nil
}

func requirePart(zr *zip.Reader, name, format string) (string, error) {
	data, ok, err := readPart(zr, name)
	if err != nil {
		return "", fmt.Errorf("%s: %w", format, err)
	}
	if !ok {
		return "", fmt.Errorf("%s: %s not found", format, name)
	}
	return string(data), nil
}

// paragraphs joins the runs inside each paragraph match and drops empty paragraphs.
func paragraphs(xml string, paragraph, run *regexp.Regexp) []string {
	var out []string
	for _, p := range paragraph.FindAllString(xml, -1) {
		var b strings.Builder
		for _, m := range run.FindAllStringSubmatch(p, -1) {
			b.WriteString(m[1])
		}
		if text := strings.TrimSpace(xmlEntities.Replace(b.String())); text != "" {
			out = append(out, text)
		}
	}
	return out
}

// docxMainPart reads [Content_Types].xml for the main document part name.
func docxMainPart(zr *zip.Reader) string {
	data, ok, err := readPart(zr, contentTypesPart)
	if !ok || err != nil {
		return docxDefaultPart
	}
	for _, override := range overrideRe.FindAllString(string(data), -1) {
		ct := contentRe.FindStringSubmatch(override)
		name := partNameRe.FindStringSubmatch(override)
		if ct != nil && name != nil && ct[1] == docxMainType {
			return strings.TrimPrefix(name[1], "/")
		}
	}
	return docxDefaultPart
}

func extractDOCX(content []byte) (string, error) {
	zr, err := openPackage(content, "docx")
	if err != nil {
		return "", err
	}
	xml, err := requirePart(zr, docxMainPart(zr), "docx")
	if err != nil {
		return "", err
	}
	return strings.Join(paragraphs(xml, docxParagraph, docxRun), "\n"), nil
}

// extractPPTX returns slide text in slide number order, slides separated by a blank line.
func extractPPTX(content []byte) (string, error) {
	zr, err := openPackage(content, "pptx")
	if err != nil {
		return "", err
	}
	type slide struct {
		num  int
		name string
	}
	var slides []slide
	for _, f := range zr.File {
		m := slideNameRe.FindStringSubmatch(f.Name)
		if m == nil {
			continue
		}
		n, _ := strconv.Atoi(m[1])
		slides = append(slides, slide{num: n, name: f.Name})
	}
	sort.Slice(slides, func(i, j int) bool { return slides[i].num < slides[j].num })

	var out []string
	for _, s := range slides {
		xml, err := requirePart(zr, s.name, "pptx")
		if err != nil {
			return "", err
		}
		if lines := paragraphs(xml, pptxParagraph, pptxRun); len(lines) > 0 {
			out = append(out, strings.Join(lines, "\n"))
		}
	}
	return strings.Join(out, "\n\n"), nil
}

func extractODT(content []byte) (string, error) { return extractODF(content, "odt") }
func extractODP(content []byte) (string, error) { return extractODF(content, "odp") }
func extractODS(content []byte) (string, error) { return extractODF(content, "ods") }

// extractODF returns each text:p and text:h block of content.xml as a line, in document order.
// Nested spans are flattened into their block.
func extractODF(content []byte, format string) (string, error) {
	zr, err := openPackage(content, format)
	if err != nil {
		return "", err
	}
	xml, err := requirePart(zr, odfContentPart, format)
	if err != nil {
		return "", err
	}
	var lines []string
	for _, m := range odfBlock.FindAllStringSubmatch(xml, -1) {
		text := strings.TrimSpace(xmlEntities.Replace(xmlTag.ReplaceAllString(odfSpace.ReplaceAllString(m[2], " "), "")))
		if text != "" {
			lines = append(lines, text)
		}
	}
	return strings.Join(lines, "\n"), nil
}
