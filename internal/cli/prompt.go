package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/mattn/go-isatty"

	"github.com/robavelii/web-scrapper/internal/config"
	"github.com/robavelii/web-scrapper/pkg/types"
)

func isTerminal(in io.Reader) bool {
	f, ok := in.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// prompt asks for the start URL, page budget and fetch mode. Empty answers
// keep the current values.
func prompt(in io.Reader, out io.Writer, cfg *config.Config) error {
	scanner := bufio.NewScanner(in)
	ask := func(question string) (string, error) {
		fmt.Fprint(out, question)
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return "", err
			}
			return "", io.ErrUnexpectedEOF
		}
		return strings.TrimSpace(scanner.Text()), nil
	}

	raw, err := ask("Enter the URL to scrape: ")
	if err != nil {
		return fmt.Errorf("read url: %w", err)
	}
	cfg.Crawl.StartURL = raw

	raw, err = ask(fmt.Sprintf("Enter the maximum number of pages to scrape [%d]: ", cfg.Crawl.MaxPages))
	if err != nil {
		return fmt.Errorf("read max pages: %w", err)
	}
	if raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("%w: max pages %q is not a number", types.ErrInvalidInput, raw)
		}
		cfg.Crawl.MaxPages = n
	}

	def := "y/N"
	if cfg.Crawl.Rendered() {
		def = "Y/n"
	}
	raw, err = ask(fmt.Sprintf("Render JavaScript with a headless browser? (%s): ", def))
	if err != nil {
		return fmt.Errorf("read render choice: %w", err)
	}
	switch strings.ToLower(raw) {
	case "":
	case "y", "yes":
		cfg.Crawl.Mode = config.ModeRendered
	case "n", "no":
		cfg.Crawl.Mode = config.ModeStatic
	default:
		return fmt.Errorf("%w: answer %q is not y or n", types.ErrInvalidInput, raw)
	}
	return nil
}
