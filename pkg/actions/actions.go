// Package actions composes the protocol drivers in pkg/clone, pkg/a5logo,
// pkg/vendorfw and pkg/dm32pic into the handful of complete workflows an
// operator actually invokes: read a clone image, flash a boot logo,
// flash a .BF firmware package. Every action returns a
// *result.OperationResult rather than a bare error so partial progress
// and warnings survive a failure. Grounded on
// original_source/src/baofeng_logo_flasher/core/actions.py and
// boot_logo.py's flash_logo wiring.
package actions

import (
	"fmt"
	"strings"

	"github.com/bf-radio-tools/flashcore/pkg/a5logo"
	"github.com/bf-radio-tools/flashcore/pkg/bfpackage"
	"github.com/bf-radio-tools/flashcore/pkg/clone"
	"github.com/bf-radio-tools/flashcore/pkg/dm32pic"
	"github.com/bf-radio-tools/flashcore/pkg/models"
	"github.com/bf-radio-tools/flashcore/pkg/radioerr"
	"github.com/bf-radio-tools/flashcore/pkg/result"
	"github.com/bf-radio-tools/flashcore/pkg/safety"
	"github.com/bf-radio-tools/flashcore/pkg/telemetry"
	"github.com/bf-radio-tools/flashcore/pkg/transport"
	"github.com/bf-radio-tools/flashcore/pkg/vendorfw"
)

// Telemetry is an optional sink every action publishes progress to, if
// set. A nil Telemetry is always safe to use.
type Telemetry = *telemetry.Sink

func publish(t Telemetry, r *result.OperationResult) {
	if t == nil {
		return
	}
	_ = t.PublishResult(r)
}

// ReadClone connects to a UV-5R-family radio, runs the handshake and
// firmware-version probe, downloads the main and auxiliary memory
// regions, and returns the concatenated image prefixed by the 8-byte
// identification block.
func ReadClone(cfg transport.Config, t Telemetry) (*result.OperationResult, []byte, error) {
	r := result.New("read_clone")
	tr, err := transport.Open(cfg)
	if err != nil {
		r.AddError(err.Error())
		publish(t, r)
		return r, nil, err
	}
	defer tr.Close()

	magic, ok := models.Get("UV-5R")
	if !ok {
		err := radioerr.New(radioerr.KindNotImplemented, "UV-5R model descriptor missing", "")
		r.AddError(err.Error())
		return r, nil, err
	}
	driver := clone.NewDriver(tr, magic.HandshakeMagic)
	ident, err := driver.Handshake()
	if err != nil {
		r.AddError(err.Error())
		publish(t, r)
		return r, nil, err
	}
	probe, err := driver.ProbeVersion()
	if err != nil {
		r.AddWarning("firmware version probe failed: " + err.Error())
	} else {
		r.Metadata["firmware_version"] = probe.Version
		r.Metadata["dropped_byte_quirk"] = probe.DroppedByteQuirk
	}

	main, err := driver.DownloadRegion(clone.MainRegionStart, clone.MainRegionSize, 0x40)
	if err != nil {
		r.AddError(err.Error())
		publish(t, r)
		return r, nil, err
	}
	aux, err := downloadAuxRegion(driver, probe)
	if err != nil {
		r.AddError(err.Error())
		publish(t, r)
		return r, nil, err
	}

	image := make([]byte, 0, len(ident)+len(main)+len(aux))
	image = append(image, ident...)
	image = append(image, main...)
	image = append(image, aux...)

	r.Ok = true
	r.BytesLen = len(image)
	r.Model, _ = detectModelName(probe)
	publish(t, r)
	return r, image, nil
}

// downloadAuxRegion downloads the auxiliary region in its normal 0x40
// blocks, except for the quirk subrange at its tail: radios with
// DroppedByteQuirk set must have that subrange read in 16-byte blocks, or
// the vendor protocol silently drops bytes and corrupts the image.
func downloadAuxRegion(driver *clone.Driver, probe *clone.VersionProbe) ([]byte, error) {
	normalLen := int(clone.QuirkSubrangeStart - clone.AuxRegionStart)
	normal, err := driver.DownloadRegion(clone.AuxRegionStart, normalLen, clone.NormalBlockSize)
	if err != nil {
		return nil, err
	}
	blockSize := clone.NormalBlockSize
	if probe != nil && probe.DroppedByteQuirk {
		blockSize = clone.QuirkBlockSize
	}
	quirkLen := clone.AuxRegionSize - normalLen
	quirk, err := driver.DownloadRegion(clone.QuirkSubrangeStart, quirkLen, blockSize)
	if err != nil {
		return nil, err
	}
	return append(normal, quirk...), nil
}

func detectModelName(probe *clone.VersionProbe) (string, bool) {
	if probe == nil {
		return "", false
	}
	m, ok := models.DetectByVersionString(probe.Version)
	if !ok {
		return "", false
	}
	return m.Name, true
}

// VerifyClone re-downloads the region written by a prior clone write and
// compares it byte-for-byte against expected, reporting the first
// mismatching offset.
func VerifyClone(driver *clone.Driver, start uint16, expected []byte, blockSize byte) (*result.OperationResult, error) {
	r := result.New("verify_clone")
	got, err := driver.DownloadRegion(start, len(expected), blockSize)
	if err != nil {
		r.AddError(err.Error())
		return r, err
	}
	for i := range expected {
		if got[i] != expected[i] {
			msg := fmt.Sprintf("mismatch at offset %d: wrote 0x%02X, read back 0x%02X", i, expected[i], got[i])
			r.AddError(msg)
			return r, radioerr.New(radioerr.KindDeviceError, "clone verification failed", msg)
		}
	}
	r.Ok = true
	r.BytesLen = len(expected)
	return r, nil
}

// FlashLogoA5 uploads an already-converted RGB565 image (see
// pkg/imagecodec.ConvertToRGB565) to the named model's boot logo region
// via the A5 protocol, gated by safety.Context.
func FlashLogoA5(cfg transport.Config, modelName string, rawRGB565 []byte, safetyCtx safety.Context, t Telemetry) (*result.OperationResult, error) {
	r := result.New("flash_logo")
	model, ok := models.Get(modelName)
	if !ok {
		err := radioerr.New(radioerr.KindProtocolViolation, "unknown radio model", modelName)
		r.AddError(err.Error())
		return r, err
	}
	if len(model.LogoRegions) == 0 {
		err := radioerr.New(radioerr.KindNotImplemented, "model has no logo region", modelName)
		r.AddError(err.Error())
		return r, err
	}
	region := model.LogoRegions[0]
	safetyCtx.Model = model.Name
	safetyCtx.RegionKnown = true
	safetyCtx.TargetRegion = region.Name
	if err := safety.RequireWritePermission(safetyCtx); err != nil {
		r.AddError(err.Error())
		return r, err
	}

	wantLen := region.Width * region.Height * 2
	if len(rawRGB565) != wantLen {
		err := radioerr.New(radioerr.KindFormat, "logo image has the wrong byte length",
			fmt.Sprintf("expected %d bytes for a %dx%d RGB565 image", wantLen, region.Width, region.Height))
		r.AddError(err.Error())
		return r, err
	}

	if safetyCtx.Simulate {
		r.Ok = true
		r.Model = model.Name
		r.Region = region.Name
		r.BytesLen = len(rawRGB565)
		r.Metadata["simulated"] = true
		publish(t, r)
		return r, nil
	}

	tr, err := transport.Open(cfg)
	if err != nil {
		r.AddError(err.Error())
		return r, err
	}
	defer tr.Close()

	uploader := a5logo.NewUploader(tr)
	if err := uploader.UploadLogo(region.Address, rawRGB565); err != nil {
		r.AddError(err.Error())
		publish(t, r)
		return r, err
	}

	r.Ok = true
	r.Model = model.Name
	r.Region = region.Name
	r.BytesLen = len(rawRGB565)
	publish(t, r)
	return r, nil
}

// FlashLogoClone implements the clone-protocol logo flash workflow: it
// downloads the full clone image (main + auxiliary regions, honoring the
// dropped-byte quirk the same way ReadClone does), keeps an in-memory
// backup, patches image into the device-address range
// [offset, offset+len(image)), gates the write on
// safety.RequireWritePermission, uploads just the patched range back, and
// read-back verifies it. In simulate mode the download and patch still
// happen (so a caller can inspect the result) but nothing is written to
// the device; the result is ok=true with metadata["simulated"]=true.
func FlashLogoClone(cfg transport.Config, modelName string, image []byte, offset uint16, safetyCtx safety.Context, t Telemetry) (*result.OperationResult, error) {
	r := result.New("flash_logo_clone")
	model, ok := models.Get(modelName)
	if !ok {
		err := radioerr.New(radioerr.KindProtocolViolation, "unknown radio model", modelName)
		r.AddError(err.Error())
		return r, err
	}
	if !model.HasCapability(models.CapWriteClone) {
		err := radioerr.New(radioerr.KindNotImplemented, "model does not support clone writes", modelName)
		r.AddError(err.Error())
		return r, err
	}

	tr, err := transport.Open(cfg)
	if err != nil {
		r.AddError(err.Error())
		return r, err
	}
	defer tr.Close()

	driver := clone.NewDriver(tr, model.HandshakeMagic)
	ident, err := driver.Handshake()
	if err != nil {
		r.AddError(err.Error())
		publish(t, r)
		return r, err
	}
	probe, err := driver.ProbeVersion()
	if err != nil {
		r.AddWarning("firmware version probe failed: " + err.Error())
	}

	main, err := driver.DownloadRegion(clone.MainRegionStart, clone.MainRegionSize, 0x40)
	if err != nil {
		r.AddError(err.Error())
		publish(t, r)
		return r, err
	}
	aux, err := downloadAuxRegion(driver, probe)
	if err != nil {
		r.AddError(err.Error())
		publish(t, r)
		return r, err
	}
	backup := make([]byte, 0, len(ident)+len(main)+len(aux))
	backup = append(backup, ident...)
	backup = append(backup, main...)
	backup = append(backup, aux...)

	start := clone.ImageByteIndex(uint32(offset))
	if start+len(image) > len(backup) {
		err := radioerr.New(radioerr.KindFormat, "patch range extends past the end of the clone image", "")
		r.AddError(err.Error())
		publish(t, r)
		return r, err
	}
	patched := make([]byte, len(backup))
	copy(patched, backup)
	copy(patched[start:start+len(image)], image)

	safetyCtx.Model = model.Name
	safetyCtx.RegionKnown = false
	safetyCtx.TargetRegion = fmt.Sprintf("clone offset 0x%04X", offset)
	if err := safety.RequireWritePermission(safetyCtx); err != nil {
		r.AddError(err.Error())
		publish(t, r)
		return r, err
	}

	if safetyCtx.Simulate {
		r.Ok = true
		r.Model = model.Name
		r.BytesLen = len(image)
		r.Metadata["simulated"] = true
		publish(t, r)
		return r, nil
	}

	if err := driver.UploadRegion(offset, image, 0x40); err != nil {
		r.AddError(err.Error())
		publish(t, r)
		return r, err
	}
	if _, err := VerifyClone(driver, offset, image, 0x40); err != nil {
		publish(t, r)
		return r, err
	}

	r.Ok = true
	r.Model = model.Name
	r.BytesLen = len(image)
	publish(t, r)
	return r, nil
}

// FlashFirmwareBF unscrambles a .BF package, sanity-checks each region's
// vector table and refuses known dumper-tool signatures, then streams
// every region through the vendor update protocol.
func FlashFirmwareBF(cfg transport.Config, modelName string, bfData []byte, startAddress uint32, allowSmall bool, safetyCtx safety.Context, t Telemetry) (*result.OperationResult, error) {
	r := result.New("flash_firmware_bf")
	model, ok := models.Get(modelName)
	if !ok {
		err := radioerr.New(radioerr.KindProtocolViolation, "unknown radio model", modelName)
		r.AddError(err.Error())
		return r, err
	}
	safetyCtx.Model = model.Name
	safetyCtx.RegionKnown = true
	safetyCtx.TargetRegion = "firmware"
	if err := safety.RequireWritePermission(safetyCtx); err != nil {
		r.AddError(err.Error())
		return r, err
	}

	if len(bfData) < headerAndFloor(allowSmall) {
		err := radioerr.New(radioerr.KindFormat, "firmware package too small", "")
		r.AddError(err.Error())
		return r, err
	}
	header, err := bfpackage.ParseHeader(bfData)
	if err != nil {
		r.AddError(err.Error())
		return r, err
	}
	regions, err := bfpackage.SplitRegions(header, bfData[16:])
	if err != nil {
		r.AddError(err.Error())
		return r, err
	}

	for i, region := range regions {
		plain := bfpackage.Descramble(region)
		if sigs := vendorfw.DetectDumperSignatures(plain); len(sigs) > 0 {
			err := radioerr.New(radioerr.KindUnsafe, "firmware image matches a known dumper-tool signature",
				strings.Join(sigs, ", "))
			r.AddError(err.Error())
			return r, err
		}
		if !allowSmall && len(plain) < vendorfw.MinFirmwareSize {
			err := radioerr.New(radioerr.KindUnsafe, "firmware region is smaller than the safety floor", "")
			r.AddError(err.Error())
			return r, err
		}
		report, err := vendorfw.AnalyzeVectorTable(plain, startAddress)
		if err != nil {
			r.AddWarning(fmt.Sprintf("region %d: could not analyze vector table: %v", i, err))
		} else {
			r.Metadata[fmt.Sprintf("vector_table_region_%d", i)] = report
			if !report.Plausible {
				err := radioerr.New(radioerr.KindUnsafe, "firmware vector table looks invalid", report.Reason)
				r.AddError(err.Error())
				return r, err
			}
		}
	}

	if safetyCtx.Simulate {
		r.Ok = true
		r.Model = model.Name
		r.BytesLen = len(bfData)
		r.Metadata["simulated"] = true
		publish(t, r)
		return r, nil
	}

	tr, err := transport.Open(cfg)
	if err != nil {
		r.AddError(err.Error())
		return r, err
	}
	defer tr.Close()

	flasher := vendorfw.NewFlasher(tr)
	if err := flasher.Handshake(); err != nil {
		r.AddError(err.Error())
		publish(t, r)
		return r, err
	}
	// Phase C transmits the BF regions as they appear in the file --
	// still scrambled -- the bootloader descrambles on its end.
	region1 := regions[0]
	var region2 []byte
	if len(regions) > 1 {
		region2 = regions[1]
	}
	if err := flasher.StreamBF(region1, region2, vendorfw.PackageSize); err != nil {
		r.AddError(err.Error())
		publish(t, r)
		return r, err
	}

	r.Ok = true
	r.Model = model.Name
	r.BytesLen = len(bfData)
	publish(t, r)
	return r, nil
}

func headerAndFloor(allowSmall bool) int {
	if allowSmall {
		return 16
	}
	return 16 + vendorfw.MinFirmwareSize
}

// FlashPictureDM32UV uploads an already-converted RGB565 image to the
// DM-32UV's power-on picture region via the picture protocol.
func FlashPictureDM32UV(cfg transport.Config, rawRGB565 []byte, safetyCtx safety.Context, t Telemetry) (*result.OperationResult, error) {
	r := result.New("flash_picture")
	model, ok := models.Get("DM-32UV")
	if !ok || len(model.LogoRegions) == 0 {
		err := radioerr.New(radioerr.KindNotImplemented, "DM-32UV model descriptor missing", "")
		r.AddError(err.Error())
		return r, err
	}
	region := model.LogoRegions[0]
	safetyCtx.Model = model.Name
	safetyCtx.RegionKnown = true
	safetyCtx.TargetRegion = region.Name
	if err := safety.RequireWritePermission(safetyCtx); err != nil {
		r.AddError(err.Error())
		return r, err
	}

	wantLen := region.Width * region.Height * 2
	if len(rawRGB565) != wantLen {
		err := radioerr.New(radioerr.KindFormat, "picture image has the wrong byte length", "")
		r.AddError(err.Error())
		return r, err
	}

	if safetyCtx.Simulate {
		r.Ok = true
		r.Model = model.Name
		r.Region = region.Name
		r.BytesLen = len(rawRGB565)
		r.Metadata["simulated"] = true
		publish(t, r)
		return r, nil
	}

	tr, err := transport.Open(cfg)
	if err != nil {
		r.AddError(err.Error())
		return r, err
	}
	defer tr.Close()

	uploader := dm32pic.NewUploader(tr)
	if err := uploader.UploadPicture(rawRGB565); err != nil {
		r.AddError(err.Error())
		publish(t, r)
		return r, err
	}

	r.Ok = true
	r.Model = model.Name
	r.Region = region.Name
	r.BytesLen = len(rawRGB565)
	publish(t, r)
	return r, nil
}
