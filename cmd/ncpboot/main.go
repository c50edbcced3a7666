package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/ncpboot/ncpboot"
	"github.com/schollz/progressbar/v3"
	log "github.com/sirupsen/logrus"
)

var commands = map[string]func(*ncpboot.Updater, *cmdArgs) error{
	"probe":   processProbe,
	"restart": processRestart,
	"flash":   processFlash,
	"update":  processUpdate,
}

// cmdArgs carries the per-command flags to the command handlers.
type cmdArgs struct {
	mode    string
	file    string
	family  string
	catalog string
}

const appVersion = "0.1.0"

func main() {
	version := flag.Bool("version", false, "Prints the program version.")
	port := flag.String("port", "", "Serial port name.")
	baud := flag.Int("baud", 115200, "Baud rate of the application firmware. The bootloader always runs at 115200.")
	dlevel := flag.String("dlevel", "INFO", "Debug level, one of RAW, PACKET, DEBUG or INFO.")
	resetLines := flag.Bool("reset-lines", false, "Reset the adapter via the RTS/DTR lines instead of the in-band commands.")
	settle := flag.Duration("settle", 0, "Boot settle time after a reset, e.g. 3s. Zero means the default.")

	cmdList := []string{}
	for key := range commands {
		cmdList = append(cmdList, key)
	}
	command := flag.String("cmd", "probe", fmt.Sprintf("Command to run, one of: %+v\n"+
		"restart needs -mode, flash needs -file, update needs -family and -catalog", cmdList))

	args := &cmdArgs{}
	flag.StringVar(&args.mode, "mode", "", "Restart target: nrml for the application firmware, btl for the bootloader.")
	flag.StringVar(&args.file, "file", "", "Firmware image to flash (.gbl, .ebl or .hex).")
	flag.StringVar(&args.family, "family", "", "Protocol family to update to: zigbee or thread.")
	flag.StringVar(&args.catalog, "catalog", "", "Firmware catalog yaml file.")

	flag.Parse()

	if *version {
		fmt.Println(appVersion)
		return
	}

	switch strings.ToUpper(*dlevel) {
	case "RAW":
		log.SetLevel(log.TraceLevel)
	case "PACKET", "DEBUG":
		log.SetLevel(log.DebugLevel)
	default:
		log.SetLevel(log.InfoLevel)
	}
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006/01/02 15:04:05",
	})

	ncpboot.SetLogger(log.StandardLogger())

	if *port == "" {
		log.Fatal("must specify port")
	}
	process, ok := commands[*command]
	if !ok {
		log.Fatalf("invalid command %v", *command)
	}

	// First Ctrl-C aborts the running operation between reads, a second
	// one kills the process the usual way.
	interrupt := make(chan struct{})
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	go func() {
		<-sig
		signal.Stop(sig)
		log.Warn("interrupted, finishing the current read...")
		close(interrupt)
	}()

	opts := ncpboot.Options{
		Baud:       *baud,
		ResetLines: *resetLines,
		Settle:     *settle,
		Interrupt:  interrupt,
	}
	if *command == "flash" || *command == "update" {
		opts.Progress = progressRenderer()
	}

	link, err := ncpboot.Open(*port, *baud)
	if err != nil {
		log.Error(err)
		os.Exit(exitCode(err))
	}
	os.Exit(run(process, link, opts, args))
}

// run executes one command and maps its error to the exit code,
// releasing the port on the way out.
func run(process func(*ncpboot.Updater, *cmdArgs) error, link ncpboot.Link, opts ncpboot.Options, args *cmdArgs) int {
	defer link.Close()
	updater := ncpboot.NewUpdater(link, opts)
	if err := process(updater, args); err != nil {
		log.Error(err)
		return exitCode(err)
	}
	return 0
}

// exitCode maps failures onto the documented scripting contract: 2 for
// port failures, 3 for an unresponsive device, 4 for a failed mode
// transition, 5 for a failed transfer, 1 for everything else.
func exitCode(err error) int {
	var pe *ncpboot.PortError
	var me *ncpboot.ModeTransitionError
	var te *ncpboot.TransferError
	switch {
	case err == nil:
		return 0
	case errors.As(err, &pe):
		return 2
	case errors.Is(err, ncpboot.ErrProbeInconclusive):
		return 3
	case errors.As(err, &me):
		return 4
	case errors.As(err, &te):
		return 5
	default:
		return 1
	}
}

// progressRenderer draws the transfer progress bar, created lazily on
// the first report so the total is known.
func progressRenderer() ncpboot.ProgressFunc {
	var bar *progressbar.ProgressBar
	return func(sent, total int) {
		if bar == nil {
			bar = progressbar.NewOptions(total,
				progressbar.OptionSetWidth(40),
				progressbar.OptionSetDescription("flashing"),
				progressbar.OptionShowBytes(true),
				progressbar.OptionOnCompletion(func() { fmt.Println() }),
			)
		}
		bar.Set(sent)
	}
}
