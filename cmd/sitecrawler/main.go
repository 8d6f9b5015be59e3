// Command sitecrawler crawls a single website breadth-first and exports the
// title, meta tags and links of every visited page.
//
// Usage:
//
//	sitecrawler --url https://example.com --max-pages 20
//	sitecrawler --config configs/config.yaml --render
//
// See --help for all available options.
package main

import "github.com/robavelii/web-scrapper/internal/cli"

func main() {
	cli.Execute()
}
