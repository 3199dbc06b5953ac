// Command ttx-tool converts broadcast teletext streams between capture
// formats: filter and re-emit raw T42/VBI captures, demux MXF data
// essence, export EBU STL subtitles or RCWT, restripe MXF timecode
// metadata in place, and mount a directory of MXF captures as a subtitle
// filesystem.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/ttxtool/ttx-tool/internal/config"
	"github.com/ttxtool/ttx-tool/internal/format"
	"github.com/ttxtool/ttx-tool/internal/indexcache"
	"github.com/ttxtool/ttx-tool/internal/klv"
	"github.com/ttxtool/ttx-tool/internal/logger"
	"github.com/ttxtool/ttx-tool/internal/mxf"
	"github.com/ttxtool/ttx-tool/internal/packet"
	"github.com/ttxtool/ttx-tool/internal/pipeline"
	"github.com/ttxtool/ttx-tool/internal/source"
	"github.com/ttxtool/ttx-tool/internal/stl"
	"github.com/ttxtool/ttx-tool/internal/subfs"
	"github.com/ttxtool/ttx-tool/internal/t42"
	"github.com/ttxtool/ttx-tool/internal/timecode"
	"github.com/ttxtool/ttx-tool/internal/tsx"
)

func usage() {
	fmt.Fprintf(os.Stderr, `usage: ttx-tool <command> [options]

commands:
  filter    filter a capture, keeping its format
  convert   convert a capture to another format
  extract   dump MXF payloads per key type
  restripe  rewrite MXF timecode metadata in place
  index     build (and cache) an MXF edit-unit index
  mount     mount a directory of MXF files as extracted subtitles
`)
}

func main() {
	cfg := config.Load()
	log := logger.New(cfg.LogLevel)

	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch os.Args[1] {
	case "filter":
		err = runConvert(ctx, os.Args[2:], cfg, log, true)
	case "convert":
		err = runConvert(ctx, os.Args[2:], cfg, log, false)
	case "extract":
		err = runExtract(ctx, os.Args[2:])
	case "restripe":
		err = runRestripe(ctx, os.Args[2:])
	case "index":
		err = runIndex(ctx, os.Args[2:], cfg, log)
	case "mount":
		err = runMount(os.Args[2:], cfg)
	default:
		usage()
		os.Exit(1)
	}
	if err != nil {
		log.Error().Err(err).Str("command", os.Args[1]).Msg("failed")
		os.Exit(1)
	}
}

// parseRows reads a comma/range row list like "0,1-24".
func parseRows(s string) (t42.Rows, error) {
	rows := make(t42.Rows)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if lo, hi, ok := strings.Cut(part, "-"); ok {
			a, err1 := strconv.Atoi(lo)
			b, err2 := strconv.Atoi(hi)
			if err1 != nil || err2 != nil || a > b {
				return nil, fmt.Errorf("bad row range %q", part)
			}
			for i := a; i <= b; i++ {
				rows[i] = true
			}
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("bad row %q", part)
		}
		rows[n] = true
	}
	return rows, nil
}

// registry returns the default registry with the TS handler attached.
func registry() *format.Registry {
	r := format.Default()
	tsx.Register(r)
	return r
}

// detectFormat resolves the input format tag: explicit flag, then
// extension, then content sniffing.
func detectFormat(tag, path string, rd *source.Reader) (packet.Format, error) {
	if tag != "" {
		return format.ParseFormat(tag)
	}
	if path != source.Stdin {
		ext := strings.TrimPrefix(filepath.Ext(source.TrimCompression(path)), ".")
		if f, err := format.ParseFormat(ext); err == nil {
			return f, nil
		}
	}
	if f := format.Sniff(rd.Peek(188*2 + 1)); f != packet.FormatUnknown {
		return f, nil
	}
	return packet.FormatUnknown, fmt.Errorf("cannot determine input format; use -f")
}

func runConvert(ctx context.Context, args []string, cfg *config.Config, log zerolog.Logger, sameFormat bool) error {
	name := "convert"
	if sameFormat {
		name = "filter"
	}
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	inPath := fs.String("i", source.Stdin, "input path (- for stdin)")
	outPath := fs.String("o", source.Stdin, "output path (- for stdout)")
	inFormat := fs.String("f", "", "input format (t42, vbi, vbi-double, mxf, ts)")
	outFormat := fs.String("t", "", "output format (t42, vbi, vbi-double, rcwt, stl)")
	mag := fs.Int("m", 0, "magazine filter (1-8; 0 = all)")
	rowSpec := fs.String("r", "", "row filter, comma/range list (e.g. 1-24)")
	captions := fs.Bool("c", false, "caption rows shortcut (rows 1-24)")
	lines := fs.Int("l", 2, "lines per frame for raw captures")
	keep := fs.Bool("keep", false, "emit zero-filled slots for filtered lines")
	realtime := fs.Bool("realtime", false, "pace output at the stream frame rate")
	clearDelay := fs.Int("clear-delay", cfg.ClearDelayFrames, "STL clear delay in frames")
	title := fs.String("title", "", "STL programme title")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() > 0 && *inPath == source.Stdin {
		*inPath = fs.Arg(0)
	}

	rd, err := source.Open(*inPath)
	if err != nil {
		return err
	}
	defer rd.Close()

	inF, err := detectFormat(*inFormat, *inPath, rd)
	if err != nil {
		return err
	}
	outF := inF
	if !sameFormat {
		if *outFormat == "" {
			return fmt.Errorf("convert needs -t output format")
		}
		if outF, err = format.ParseFormat(*outFormat); err != nil {
			return err
		}
	}

	var rows t42.Rows
	if *captions {
		rows = t42.CaptionRows()
	}
	if *rowSpec != "" {
		if rows, err = parseRows(*rowSpec); err != nil {
			return err
		}
	}

	var parserInput io.Reader = rd
	if inF == packet.FormatMXF {
		f := rd.File()
		if f == nil {
			return fmt.Errorf("mxf input must be an uncompressed regular file")
		}
		parserInput = f
	}
	parser, err := registry().Open(inF, parserInput, format.ParserOptions{
		LinesPerFrame:   *lines,
		HeaderScanBytes: cfg.HeaderScanBytes,
	})
	if err != nil {
		return err
	}

	w, err := source.Create(*outPath)
	if err != nil {
		return err
	}
	defer w.Close()

	stats, err := pipeline.Run(ctx, parser, w, pipeline.Options{
		Magazine: *mag,
		Rows:     rows,
		Keep:     *keep,
		Output:   outF,
		Realtime: *realtime,
		STL:      stl.Config{ClearDelayFrames: *clearDelay, Title: *title},
	})
	if err != nil {
		return err
	}
	log.Info().
		Int64("packets", stats.Packets).
		Int64("lines_out", stats.LinesOut).
		Int64("lines_dropped", stats.LinesDropped).
		Msg("done")
	return w.Close()
}

// fileSink opens one dump file per key type under dir, lazily.
type fileSink struct {
	dir   string
	base  string
	files map[klv.KeyType]*os.File
}

func newFileSink(dir, base string) *fileSink {
	return &fileSink{dir: dir, base: base, files: make(map[klv.KeyType]*os.File)}
}

func (s *fileSink) Writer(t klv.KeyType) (io.Writer, error) {
	if f, ok := s.files[t]; ok {
		return f, nil
	}
	f, err := os.Create(filepath.Join(s.dir, fmt.Sprintf("%s.%s.raw", s.base, t)))
	if err != nil {
		return nil, err
	}
	s.files[t] = f
	return f, nil
}

func (s *fileSink) Close() {
	for _, f := range s.files {
		f.Close()
	}
}

func runExtract(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("extract", flag.ExitOnError)
	outDir := fs.String("d", ".", "output directory")
	keepKLV := fs.Bool("klv", false, "preserve KLV key and length bytes")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("extract needs exactly one input file")
	}
	in := fs.Arg(0)
	f, err := os.Open(in)
	if err != nil {
		return err
	}
	defer f.Close()

	base := strings.TrimSuffix(filepath.Base(in), filepath.Ext(in))
	sink := newFileSink(*outDir, base)
	defer sink.Close()
	return mxf.Dump(ctx, f, sink, *keepKLV)
}

func runRestripe(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("restripe", flag.ExitOnError)
	tcStr := fs.String("t", "", "new start timecode (HH:MM:SS:FF, ; for drop-frame)")
	timebase := fs.Int("b", 25, "timebase (frames per second)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *tcStr == "" || fs.NArg() != 1 {
		return fmt.Errorf("restripe needs -t HH:MM:SS:FF and one file")
	}
	start, err := timecode.Parse(*tcStr, *timebase)
	if err != nil {
		return err
	}
	return mxf.Restripe(ctx, fs.Arg(0), start)
}

func runIndex(ctx context.Context, args []string, cfg *config.Config, log zerolog.Logger) error {
	fs := flag.NewFlagSet("index", flag.ExitOnError)
	timebase := fs.Int("b", 25, "edit rate numerator")
	noCache := fs.Bool("no-cache", false, "skip the index cache")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("index needs exactly one input file")
	}
	path := fs.Arg(0)

	var cache *indexcache.Cache
	if !*noCache {
		if c, err := indexcache.Open(cfg.CacheDir); err == nil {
			cache = c
			defer cache.Close()
			if x, ok, err := cache.Get(path); err == nil && ok {
				printIndex(x)
				return nil
			}
		} else {
			log.Warn().Err(err).Msg("index cache unavailable")
		}
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	x, err := mxf.BuildIndex(ctx, f, *timebase, 1)
	if err != nil {
		return err
	}
	if cache != nil {
		if err := cache.Put(path, x); err != nil {
			log.Warn().Err(err).Msg("index cache write failed")
		}
	}
	printIndex(x)
	return nil
}

func printIndex(x *mxf.Index) {
	fmt.Printf("edit units: %d\n", x.EditUnitCount)
	fmt.Printf("essence start: %d\n", x.BodyPartitionOffset)
	if x.IsConstantByteSize {
		fmt.Printf("edit unit size: %d (constant)\n", x.ConstantEditUnitBytes)
	} else {
		fmt.Printf("edit unit size: variable (%d offsets)\n", len(x.StreamOffsets))
	}
}

func runMount(args []string, cfg *config.Config) error {
	fs := flag.NewFlagSet("mount", flag.ExitOnError)
	srcDir := fs.String("src", ".", "directory of MXF captures")
	clearDelay := fs.Int("clear-delay", cfg.ClearDelayFrames, "STL clear delay in frames")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("mount needs a mount point")
	}
	return subfs.Mount(fs.Arg(0), *srcDir, cfg.CacheDir, *clearDelay)
}
