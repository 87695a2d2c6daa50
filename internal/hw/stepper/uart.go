package stepper

import (
	"fmt"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/rndmzd/laser-turret/internal/turreterr"
)

// UARTConfig selects TMC2209-over-serial microstepping in place of the
// MS1/MS2/MS3 pin table, grounded on the original single-wire UART
// register protocol (CRC-8, poly 0x07, 8-byte framed read/write).
type UARTConfig struct {
	Port string
	Baud int
	Addr byte
}

const (
	tmcSyncByte = 0x05
	regGCONF    = 0x00
	regIHOLDRUN = 0x10
	regCHOPCONF = 0x6C
)

// mresForMicrosteps maps microsteps to the TMC2209 MRES field, matching
// the original's MRES_FOR_MICROSTEPS table (only the values this
// project's config accepts are included).
var mresForMicrosteps = map[int]uint32{
	16: 4,
	8:  5,
	4:  6,
	2:  7,
	1:  8,
}

// tmcCRC8 computes the TMC2209 UART frame checksum (poly 0x07).
func tmcCRC8(data []byte) byte {
	var crc byte
	for _, b := range data {
		crc ^= b
		for i := 0; i < 8; i++ {
			if crc&0x80 != 0 {
				crc = (crc << 1) ^ 0x07
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

// uartDriver is a minimal TMC2209 register client over go.bug.st/serial.
type uartDriver struct {
	mu   sync.Mutex
	port serial.Port
	addr byte
}

func openUARTDriver(cfg *UARTConfig) (*uartDriver, error) {
	mode := &serial.Mode{BaudRate: cfg.Baud}
	if mode.BaudRate == 0 {
		mode.BaudRate = 115200
	}
	p, err := serial.Open(cfg.Port, mode)
	if err != nil {
		return nil, fmt.Errorf("%w: open tmc2209 uart %s: %v", turreterr.ErrHardware, cfg.Port, err)
	}
	_ = p.SetReadTimeout(50 * time.Millisecond)
	return &uartDriver{port: p, addr: cfg.Addr}, nil
}

func (d *uartDriver) writeReg(reg byte, value uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	frame := []byte{
		tmcSyncByte,
		d.addr,
		reg | 0x80,
		byte(value >> 24),
		byte(value >> 16),
		byte(value >> 8),
		byte(value),
	}
	frame = append(frame, tmcCRC8(frame))
	if _, err := d.port.Write(frame); err != nil {
		return fmt.Errorf("%w: tmc2209 write reg 0x%02x: %v", turreterr.ErrHardware, reg, err)
	}
	time.Sleep(time.Millisecond)
	return nil
}

func (d *uartDriver) close() error {
	return d.port.Close()
}

// packGCONF sets pdn_disable (bit6) and mstep_reg_select (bit7), mirroring
// pack_GCONF in the original register packer.
func packGCONF() uint32 {
	return (1 << 6) | (1 << 7)
}

// packIHOLDIRUN mirrors pack_IHOLD_IRUN: IHOLDDELAY<<16 | IRUN<<8 | IHOLD.
func packIHOLDIRUN(ihold, irun, iholdDelay uint32) uint32 {
	return ((iholdDelay & 0x0F) << 16) | ((irun & 0x1F) << 8) | (ihold & 0x1F)
}

// packCHOPCONF mirrors pack_CHOPCONF, placing the MRES field at bits 24-27.
func packCHOPCONF(mres, toff, hstrt, hend, tbl uint32) uint32 {
	v := toff & 0x0F
	v |= (hstrt & 0x07) << 4
	v |= (hend & 0x0F) << 7
	v |= (tbl & 0x03) << 15
	v |= (mres & 0x0F) << 24
	return v
}

// configureUARTMicrostepping opens the serial port, writes GCONF,
// IHOLD_IRUN, and CHOPCONF (with the MRES field for the requested
// microstep resolution), and closes the connection. The driver chip
// retains the setting until power-cycled or rewritten.
func configureUARTMicrostepping(cfg *UARTConfig, microsteps int) error {
	mres, ok := mresForMicrosteps[microsteps]
	if !ok {
		return fmt.Errorf("%w: unsupported uart microstep resolution %d", turreterr.ErrInvalidConfig, microsteps)
	}

	d, err := openUARTDriver(cfg)
	if err != nil {
		return err
	}
	defer d.close()

	if err := d.writeReg(regGCONF, packGCONF()); err != nil {
		return err
	}
	if err := d.writeReg(regIHOLDRUN, packIHOLDIRUN(8, 20, 6)); err != nil {
		return err
	}
	if err := d.writeReg(regCHOPCONF, packCHOPCONF(mres, 3, 4, 0, 2)); err != nil {
		return err
	}
	return nil
}
