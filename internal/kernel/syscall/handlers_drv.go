package syscall

import (
	"github.com/obos-dev/kernel/internal/kernel/driver"
	"github.com/obos-dev/kernel/internal/kernel/handle"
	"github.com/obos-dev/kernel/internal/kernel/kerrors"
	"github.com/obos-dev/kernel/internal/kernel/vfs"
)

// loadDriverHandler reads a driver image's header from the named file,
// validates it, and loads the driver whose code the registry supplies
// under the header's name -- the hosted stand-in for relocating the
// image's machine code. The entry point runs at load, per the loader's
// contract; StartDriver then probes the device.
func loadDriverHandler(loader *driver.Loader, drivers *driver.Registry) HandlerFunc {
	return func(c *Call) (uintptr, error) {
		if loader == nil || drivers == nil {
			return 0, kerrors.Wrap(kerrors.UNIMPLEMENTED, "syscall.LoadDriver", nil)
		}

		path, err := c.copyInString(c.Args[0])
		if err != nil {
			return 0, err
		}

		start, err := c.cwdVnode()
		if err != nil {
			return 0, err
		}

		creds := c.Process.Credentials

		fd, err := c.VFS.FdOpen(start, path, vfs.ORead, creds.EUID, creds.EGID, creds.HasGroup)
		if err != nil {
			return 0, err
		}
		defer fd.Close()

		raw := make([]byte, driver.HeaderSize)
		if n, err := fd.Read(raw); err != nil {
			return 0, err
		} else if n < driver.HeaderSize {
			return 0, kerrors.Wrap(kerrors.INVALID_FILE, "syscall.LoadDriver", driver.ErrMalformedHeader)
		}

		var hdr driver.Header
		if err := hdr.UnmarshalBinary(raw); err != nil {
			return 0, kerrors.Wrap(kerrors.INVALID_FILE, "syscall.LoadDriver", err)
		}

		name := cString(hdr.DriverName[:])

		factory, err := drivers.Lookup(name)
		if err != nil {
			return 0, err
		}

		_, drv, entry := factory()

		inst, err := loader.Load(hdr, drv, nil, entry)
		if err != nil {
			return 0, err
		}

		return uintptr(c.Handles.Open(handle.TypeDriver, inst)), nil
	}
}

func sysStartDriver(c *Call) (uintptr, error) {
	inst, err := c.lookupDriver(c.Args[0])
	if err != nil {
		return 0, err
	}

	if !inst.Loaded() {
		return 0, kerrors.InvalidOperation
	}

	return 0, inst.Driver.Probe()
}

func unloadDriverHandler(loader *driver.Loader) HandlerFunc {
	return func(c *Call) (uintptr, error) {
		if loader == nil {
			return 0, kerrors.Wrap(kerrors.UNIMPLEMENTED, "syscall.UnloadDriver", nil)
		}

		inst, err := c.lookupDriver(c.Args[0])
		if err != nil {
			return 0, err
		}

		if err := loader.Unload(inst); err != nil {
			return 0, err
		}

		return 0, c.Handles.Close(handle.Handle(c.Args[0]))
	}
}

func findDriverHandler(loader *driver.Loader) HandlerFunc {
	return func(c *Call) (uintptr, error) {
		if loader == nil {
			return 0, kerrors.Wrap(kerrors.UNIMPLEMENTED, "syscall.FindDriverByName", nil)
		}

		name, err := c.copyInString(c.Args[0])
		if err != nil {
			return 0, err
		}

		var found *driver.Instance

		loader.ForEach(func(inst *driver.Instance) bool {
			if inst.Name == name {
				found = inst
				return false
			}

			return true
		})

		if found == nil {
			return 0, kerrors.NotFound
		}

		return uintptr(c.Handles.Open(handle.TypeDriver, found)), nil
	}
}

func sysQueryDriverName(c *Call) (uintptr, error) {
	inst, err := c.lookupDriver(c.Args[0])
	if err != nil {
		return 0, err
	}

	out := append([]byte(inst.Name), 0)

	return uintptr(len(inst.Name)), c.CopyOut(c.Args[1], out)
}
