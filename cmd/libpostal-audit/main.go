//go:build cgo

package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	expand "github.com/openvenues/gopostal/expand"
	postal "github.com/openvenues/gopostal/parser"

	"github.com/brownsville-complaints/internal/normalize"
)

const version = "1.0.0"

// libpostal-audit cross-checks the rule-based normalizer against
// libpostal. It is a separate binary because gopostal needs cgo and the
// libpostal data files, which the pipeline itself must not depend on.
func main() {
	var (
		command = flag.String("cmd", "", "Command: test-parse, audit")
		address = flag.String("address", "", "Single address to test parsing")
		input   = flag.String("input", "", "CSV of addresses to audit (house_number,street,zip,borough)")
		limit   = flag.Int("limit", 0, "Number of rows to audit (0 = all)")
	)
	flag.Parse()

	if *command == "" {
		printUsage()
		return
	}

	fmt.Printf("Brownsville libpostal audit v%s\n\n", version)

	switch *command {
	case "test-parse":
		if *address == "" {
			fmt.Println("Error: -address required for test-parse")
			return
		}
		testParse(*address)
	case "audit":
		if *input == "" {
			fmt.Println("Error: -input required for audit")
			return
		}
		if err := auditFile(*input, *limit); err != nil {
			log.Fatalf("Audit failed: %v", err)
		}
	default:
		fmt.Printf("Unknown command: %s\n", *command)
		printUsage()
	}
}

func printUsage() {
	fmt.Println("Usage:")
	fmt.Println("  Test parsing of a single address:")
	fmt.Println("    ./libpostal-audit -cmd=test-parse -address=\"416 Saratoga Ave, Brooklyn, NY 11233\"")
	fmt.Println()
	fmt.Println("  Audit the normalizer against libpostal over a CSV extract:")
	fmt.Println("    ./libpostal-audit -cmd=audit -input=addresses.csv -limit=1000")
}

// testParse shows libpostal's view of an address next to the
// normalizer's.
func testParse(address string) {
	fmt.Printf("Input: %s\n\n", address)

	components := postal.ParseAddress(address)
	fmt.Println("libpostal components:")
	for _, component := range components {
		fmt.Printf("   %-15s: %s\n", component.Label, component.Value)
	}

	expansions := expand.ExpandAddress(address)
	fmt.Println("\nlibpostal expansions:")
	for _, e := range expansions {
		fmt.Printf("   %s\n", e)
	}

	extracted := extractComponents(components)
	addr, err := normalize.Normalize(
		extracted["house_number"], extracted["road"],
		extracted["postcode"], extracted["city"])
	if err != nil {
		fmt.Printf("\nNormalizer: %v\n", err)
		return
	}
	fmt.Printf("\nNormalizer: %s\n", addr.Display())
	fmt.Printf("Key:        %s\n", addr.Key())
}

// auditFile runs both parsers over an extract and reports how often
// they agree on the street line.
func auditFile(path string, limit int) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	reader := csv.NewReader(f)
	header, err := reader.Read()
	if err != nil {
		return fmt.Errorf("read header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, required := range []string{"house_number", "street"} {
		if _, ok := col[required]; !ok {
			return fmt.Errorf("input is missing column %q", required)
		}
	}

	field := func(row []string, name string) string {
		if i, ok := col[name]; ok && i < len(row) {
			return strings.TrimSpace(row[i])
		}
		return ""
	}

	var total, agreed, normalizerRejected, disagreements int
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		if limit > 0 && total >= limit {
			break
		}
		total++

		house := field(row, "house_number")
		street := field(row, "street")
		addr, err := normalize.Normalize(house, street, field(row, "zip"), field(row, "borough"))
		if err != nil {
			normalizerRejected++
			continue
		}

		if streetsAgree(addr, house+" "+street) {
			agreed++
			continue
		}
		disagreements++
		if disagreements <= 20 {
			fmt.Printf("  disagreement: %q -> %q\n", house+" "+street, addr.Display())
		}
	}

	fmt.Printf("\n=== Audit Results ===\n")
	fmt.Printf("Rows audited:        %d\n", total)
	fmt.Printf("Agreements:          %d (%.1f%%)\n", agreed, pct(agreed, total))
	fmt.Printf("Disagreements:       %d (%.1f%%)\n", disagreements, pct(disagreements, total))
	fmt.Printf("Normalizer rejected: %d (%.1f%%)\n", normalizerRejected, pct(normalizerRejected, total))
	return nil
}

// streetsAgree checks whether any libpostal expansion of the raw street
// line contains the normalizer's canonical street.
func streetsAgree(addr normalize.Address, rawLine string) bool {
	want := strings.ToUpper(addr.HouseNumber + " " + addr.Street)
	for _, e := range expand.ExpandAddress(rawLine) {
		if strings.Contains(strings.ToUpper(e), strings.ToUpper(addr.Street)) ||
			strings.EqualFold(strings.ToUpper(e), want) {
			return true
		}
	}
	return false
}

// extractComponents converts libpostal output to a flat map.
func extractComponents(components []postal.ParsedComponent) map[string]string {
	extracted := make(map[string]string)
	for _, comp := range components {
		switch comp.Label {
		case "house_number", "road", "suburb", "city", "postcode", "unit", "city_district":
			extracted[comp.Label] = comp.Value
		}
	}
	// libpostal labels boroughs as city_district for NYC addresses.
	if extracted["city"] == "" {
		extracted["city"] = extracted["city_district"]
	}
	return extracted
}

func pct(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) / float64(total) * 100
}
