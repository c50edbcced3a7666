package main

import (
	"errors"

	"github.com/ncpboot/ncpboot"
	log "github.com/sirupsen/logrus"
)

func processProbe(u *ncpboot.Updater, _ *cmdArgs) error {
	res, err := u.Probe()
	if err != nil {
		return err
	}
	printState(res.State)
	return nil
}

func processRestart(u *ncpboot.Updater, args *cmdArgs) error {
	if args.mode == "" {
		return errors.New("restart needs -mode nrml or -mode btl")
	}
	target, err := ncpboot.ParseBootTarget(args.mode)
	if err != nil {
		return err
	}
	res, err := u.Restart(target)
	if err != nil {
		return err
	}
	log.Infof("device is now in %s state", res.State.Mode)
	return nil
}

func processFlash(u *ncpboot.Updater, args *cmdArgs) error {
	if args.file == "" {
		return errors.New("flash needs -file")
	}
	img, err := ncpboot.LoadFirmware(args.file)
	if err != nil {
		return err
	}
	out, err := u.Flash(img)
	if err != nil {
		return err
	}
	log.Infof("flashed %d blocks (%d bytes), %d retries", out.Blocks, out.BytesSent, out.Retries)
	log.Info("device stays at the bootloader menu, run -cmd restart -mode nrml to boot the new firmware")
	return nil
}

func processUpdate(u *ncpboot.Updater, args *cmdArgs) error {
	if args.family == "" || args.catalog == "" {
		return errors.New("update needs -family and -catalog")
	}
	family, err := ncpboot.ParseFamily(args.family)
	if err != nil {
		return err
	}
	catalog, err := ncpboot.LoadCatalog(args.catalog)
	if err != nil {
		return err
	}
	res, err := u.Update(family, catalog)
	if err != nil {
		return err
	}
	log.Infof("update complete, device is in %s state", res.State)
	return nil
}

// printState prints the probe findings one field per line, the way
// operators are used to reading them from the vendor tools.
func printState(s ncpboot.DeviceState) {
	switch s.Mode {
	case ncpboot.ModeZigbee, ncpboot.ModeThread:
		if s.Vendor != "" {
			log.Infof("%s %s adapter detected:", s.Vendor, s.Mode)
		} else {
			log.Infof("generic %s adapter detected:", s.Mode)
		}
		if s.Board != "" {
			log.Infof("adapter: %s", s.Board)
		}
		if s.Firmware != "" {
			log.Infof("firmware: %s", s.Firmware)
		}
		if s.Mode == ncpboot.ModeZigbee {
			log.Infof("EZSP v%s", s.Protocol)
		} else {
			log.Infof("SPINEL v%s", s.Protocol)
		}
	case ncpboot.ModeBootloader:
		if s.Firmware != "" {
			log.Infof("adapter is in bootloader mode: %s", s.Firmware)
		} else {
			log.Info("adapter is in bootloader mode")
		}
	}
}
