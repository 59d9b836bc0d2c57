// Command symbolicate is a small atos-style CLI over this module's
// symbolication pipeline: given a binary or dSYM and one or more
// addresses, it prints the resolved symbol, file, and line for each.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/crashkit/symbolicate/cpu"
	"github.com/crashkit/symbolicate/debuginfo"
	"github.com/crashkit/symbolicate/symbolizer"
)

const usageMsg = `Usage: %s [-o executable/dSYM] [-s slide | -l loadAddress | -textExecAddress addr | -offset] [-arch architecture] [-fullPath] [-inlineFrames] [-d delimiter] [address ...]`

var (
	usage   = fmt.Sprintf(usageMsg, os.Args[0]) + "\n"
	logger  = log.New(os.Stderr, "", 0)
	flagSet *flag.FlagSet
)

func showUsage() {
	logger.Println(usage)
	flagSet.PrintDefaults()
}

func popErr(format string, args ...any) {
	logger.Println(fmt.Sprintf(format, args...))
	os.Exit(1)
}

func popErrAndUsage(format string, v ...any) {
	logger.Println(fmt.Sprintf(format, v...) + "\n")
	showUsage()
	os.Exit(1)
}

func printf(format string, v ...any) {
	if _, err := fmt.Fprintf(os.Stdout, format, v...); err != nil {
		panic(err)
	}
}

func prependHexSign(addr string) string {
	if !strings.HasPrefix(addr, "0x") && !strings.HasPrefix(addr, "0X") {
		addr = "0x" + addr
	}
	return addr
}

func main() {
	flagSet = flag.NewFlagSet(os.Args[0], flag.ContinueOnError)
	flagSet.SetOutput(logger.Writer())

	help := flagSet.Bool("h", false, "show this help")
	helpLong := flagSet.Bool("help", false, "show this help")
	debug := flagSet.Bool("debug", false, "enable debug logging")
	bin := flagSet.String("o", "", `The path to a binary image file or dSYM in which to look up symbols`)
	arch := flagSet.String("arch", "arm64", `The architecture of the binary image file in which to look up symbols`)
	loadAddr := flagSet.String("l", "", `The runtime load address of the binary image, in hex (with or without a "0x" prefix). Input addresses are assumed to come from an image loaded at this address`)
	textExecAddress := flagSet.String("textExecAddress", "", `Use instead of -l for kernel-space binary images on arm64(e) devices: the "Kernel text exec base" runtime address, in hex`)
	slide := flagSet.String("s", "", `The slide value of the binary image: the difference between its runtime load address and the address it was built at. Subtracted from input addresses; usually easier to pass -l directly`)
	isOffset := flagSet.Bool("offset", false, `Treat all given addresses as already-slid offsets into the binary. Only one of -s, -l, -textExecAddress, -offset may be used at a time`)
	fullPath := flagSet.Bool("fullPath", false, `Print the full path of the source files`)
	inlineFrames := flagSet.Bool("inlineFrames", false, `Resolve and print the full inline call chain for each address, innermost first`)
	delimiter := flagSet.String("d", "\n", `Delimiter when outputting results (and extra lines for inline frames). Defaults to newline`)
	_ = flagSet.Parse(os.Args[1:])
	addresses := flagSet.Args()

	if *help || *helpLong {
		showUsage()
		return
	}

	if *debug {
		debugLog := zap.New(zapcore.NewCore(
			zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig()),
			zapcore.AddSync(logger.Writer()),
			zapcore.DebugLevel)).Sugar()
		symbolizer.Log = debugLog
		debuginfo.Log = debugLog
	}

	if *bin == "" {
		popErrAndUsage("no executable or dSYM file specified")
	}
	cpuName := cpu.Name(*arch)
	if !cpu.IsValid(cpuName) {
		popErr("unknown architecture %q", *arch)
	}

	addrParams := 0
	for _, set := range []bool{*loadAddr != "", *textExecAddress != "", *slide != "", *isOffset} {
		if set {
			addrParams++
		}
	}
	if addrParams > 1 {
		popErrAndUsage(`only one of "-s, -l, -textExecAddress or -offset" can be used at a time`)
	}

	// vmAddr is the link-time address of __TEXT for this arch slice;
	// DWARF addresses are expressed in that space, so runtime addresses
	// must be translated through it rather than assumed zero-based.
	var vmAddr uint64
	if h, err := debuginfo.Open(*bin); err == nil {
		if v, ok := h.Variant(cpuName); ok {
			vmAddr = v.VMAddr
		}
		h.Close()
	}

	var loadSlide uint64
	switch {
	case *loadAddr != "":
		v, err := strconv.ParseUint(prependHexSign(*loadAddr), 0, 64)
		if err != nil {
			popErrAndUsage("invalid load address: %v", err)
		}
		loadSlide = v - vmAddr
	case *textExecAddress != "":
		v, err := strconv.ParseUint(prependHexSign(*textExecAddress), 0, 64)
		if err != nil {
			popErrAndUsage("invalid text exec address: %v", err)
		}
		loadSlide = v - vmAddr
	case *slide != "":
		v, err := strconv.ParseUint(prependHexSign(*slide), 0, 64)
		if err != nil {
			popErrAndUsage("invalid slide value: %v", err)
		}
		loadSlide = v
	}

	binaryFile := filepath.Base(*bin)

	sym := symbolizer.New()
	defer sym.Close()

	for _, addr := range addresses {
		// offset is the link-time, pre-slid address the debug-info
		// layer expects. In -offset mode the input is already relative
		// to __TEXT; otherwise it is a runtime address and the slide
		// (runtime load address minus link-time vmaddr) is subtracted.
		var offset uint64
		if *isOffset {
			v, err := strconv.ParseUint(prependHexSign(addr), 0, 64)
			if err != nil {
				fmt.Printf("%s%s", addr, *delimiter)
				continue
			}
			offset = vmAddr + v
		} else {
			pc, err := strconv.ParseUint(prependHexSign(addr), 0, 64)
			if err != nil {
				fmt.Printf("%s%s", addr, *delimiter)
				continue
			}
			offset = pc - loadSlide
		}

		if *inlineFrames {
			hits, err := sym.SymbolizeInlined(*bin, offset, cpuName)
			if err != nil || len(hits) == 0 {
				fmt.Printf("%s%s", addr, *delimiter)
				continue
			}
			for _, hit := range hits {
				printHit(hit, binaryFile, *fullPath, *delimiter)
			}
			continue
		}

		hit, err := sym.Symbolize(*bin, offset, cpuName, false)
		if err != nil || !hit.Resolved {
			fmt.Printf("%s%s", addr, *delimiter)
			continue
		}
		printHit(hit, binaryFile, *fullPath, *delimiter)
	}
}

func printHit(hit symbolizer.Resolved, binaryFile string, fullPath bool, delimiter string) {
	filename := hit.Filename
	if filename == "" {
		filename = hit.AbsPath
	}
	if !fullPath {
		filename = path.Base(filename)
	}
	printf("%s (in %s) (%s:%d)%s", hit.SymbolName, binaryFile, filename, hit.Line, delimiter)
}
