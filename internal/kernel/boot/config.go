package boot

import (
	"flag"
	"io"
	"strings"
)

// Config holds the parsed command line, following the flag names from the
// "Command-line" rule: --no-init, --init-path=, --root-fs-uuid=,
// --root-fs-partid=, --mount-initrd=, --initrd-module=,
// --initrd-driver-module=, --load-modules=a[,b], --enable-kdbg,
// --early-table-access-buf-size=N, --acpi-no-osi, --acpi-bad-xsdt, --help.
type Config struct {
	NoInit             bool
	InitPath           string
	RootFSUUID         string
	RootFSPartID       string
	MountInitrd        bool
	InitrdModule       string
	InitrdDriverModule string
	LoadModules        []string
	EnableKDbg         bool
	EarlyTableBufSize  uint
	ACPINoOSI          bool
	ACPIBadXSDT        bool

	// DiskImage names the host file backing the root block device. The
	// original firmware/bootloader hands the kernel an already-discovered
	// boot disk; this hosted simulation has no firmware, so it needs a
	// path instead.
	DiskImage string

	help        bool
	loadModules string
}

// newFlagSet builds the flag.FlagSet that parses Config: one set for the
// kernel's single top-level command line, not a sub-command tree.
func (c *Config) newFlagSet() *flag.FlagSet {
	fs := flag.NewFlagSet("kernel", flag.ContinueOnError)

	fs.BoolVar(&c.NoInit, "no-init", false, "do not launch the init process")
	fs.StringVar(&c.InitPath, "init-path", "/sbin/init", "path to the init executable")
	fs.StringVar(&c.RootFSUUID, "root-fs-uuid", "", "GPT unique GUID of the root filesystem partition")
	fs.StringVar(&c.RootFSPartID, "root-fs-partid", "", "GPT partition type GUID of the root filesystem partition")
	fs.BoolVar(&c.MountInitrd, "mount-initrd", false, "mount the initrd as the temporary root")
	fs.StringVar(&c.InitrdModule, "initrd-module", "", "name of the initrd boot module")
	fs.StringVar(&c.InitrdDriverModule, "initrd-driver-module", "", "name of the initrd's root filesystem driver module")
	fs.StringVar(&c.loadModules, "load-modules", "", "comma-separated list of driver modules to load at boot")
	fs.BoolVar(&c.EnableKDbg, "enable-kdbg", false, "enable the kernel debugger stub")
	fs.UintVar(&c.EarlyTableBufSize, "early-table-access-buf-size", 4096, "size in bytes of the early ACPI table-access scratch buffer")
	fs.BoolVar(&c.ACPINoOSI, "acpi-no-osi", false, "disable ACPI _OSI method evaluation")
	fs.BoolVar(&c.ACPIBadXSDT, "acpi-bad-xsdt", false, "ignore the XSDT and use the RSDT even on 64-bit ACPI")
	fs.StringVar(&c.DiskImage, "disk-image", "", "host file backing the boot disk image")
	fs.BoolVar(&c.help, "help", false, "print usage and exit")

	return fs
}

// Help reports whether --help was given.
func (c *Config) Help() bool { return c.help }

// Parse parses args (typically os.Args[1:]) into c.
func (c *Config) Parse(args []string) error {
	fs := c.newFlagSet()
	if err := fs.Parse(args); err != nil {
		return err
	}

	if c.loadModules != "" {
		c.LoadModules = strings.Split(c.loadModules, ",")
	}

	return nil
}

// PrintUsage writes flag usage to w.
func (c *Config) PrintUsage(w io.Writer) {
	fs := c.newFlagSet()
	fs.SetOutput(w)
	fs.PrintDefaults()
}
