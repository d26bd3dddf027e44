package catalog

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/jamespfennell/gtfs"

	"nimbus.transitwatch.org/internal/store"
)

// ImportGTFSFromSource loads a static GTFS zip from a local path or an HTTP
// URL and seeds the reference collections from it.
func ImportGTFSFromSource(ctx context.Context, s store.Store, source string) error {
	b, err := rawGTFSData(source)
	if err != nil {
		return err
	}
	static, err := gtfs.ParseStatic(b, gtfs.ParseStaticOptions{})
	if err != nil {
		return fmt.Errorf("parsing GTFS data: %w", err)
	}
	return ImportGTFS(ctx, s, static)
}

func rawGTFSData(source string) ([]byte, error) {
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		resp, err := http.Get(source)
		if err != nil {
			return nil, fmt.Errorf("downloading GTFS data: %w", err)
		}
		defer resp.Body.Close() // nolint

		b, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("reading GTFS data: %w", err)
		}
		return b, nil
	}

	b, err := os.ReadFile(source)
	if err != nil {
		return nil, fmt.Errorf("reading local GTFS file: %w", err)
	}
	return b, nil
}
