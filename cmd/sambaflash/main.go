// Command sambaflash programs Atmel/Microchip SAM-family microcontrollers
// through their SAM-BA ROM bootloader over a serial port.
package main

import (
	"flag"
	"log"
	"os"

	"github.com/sambaflash/sambaflash/device"
	"github.com/sambaflash/sambaflash/geometry"
	"github.com/sambaflash/sambaflash/samba"
	"github.com/sambaflash/sambaflash/transport"
)

func main() {
	log.SetFlags(0)
	log.SetPrefix("sambaflash: ")

	port := flag.String("port", "", "serial device connected to the target, e.g. /dev/ttyACM0")
	file := flag.String("file", "", "binary image to program")
	overridePath := flag.String("geometry", "", "optional YAML file of geometry table overrides")
	erase := flag.Bool("erase", false, "erase the device before programming")
	verify := flag.Bool("verify", true, "verify after programming")
	reset := flag.Bool("reset", true, "reset the target after flashing")
	flag.Parse()

	if *port == "" {
		flag.PrintDefaults()
		log.Fatal("-port is required")
	}

	// Actual baud rate / raw-mode configuration of *port is the caller's
	// responsibility; transport.DefaultSerialConfig().Termios() describes
	// the settings this tool expects to already be in effect.
	conn, err := os.OpenFile(*port, os.O_RDWR, 0)
	if err != nil {
		log.Fatal(err)
	}
	defer conn.Close()

	tr := transport.New(conn)
	defer tr.Close()

	client := samba.New(tr)
	if err := client.Connect(); err != nil {
		log.Fatal("connect: ", err)
	}

	table := geometry.Builtin()
	if *overridePath != "" {
		f, err := os.Open(*overridePath)
		if err != nil {
			log.Fatal(err)
		}
		err = table.LoadOverrides(f)
		f.Close()
		if err != nil {
			log.Fatal("geometry overrides: ", err)
		}
	}

	dev, err := device.New(client, table)
	if err != nil {
		log.Fatal("identify: ", err)
	}
	log.Printf("identified %s (chipID=%#08x deviceID=%#08x)", dev.Entry.Name, dev.ID.ChipID, dev.ID.DeviceID)

	if *file == "" {
		return
	}

	data, err := os.ReadFile(*file)
	if err != nil {
		log.Fatal(err)
	}

	if *erase {
		log.Println("erasing...")
		if err := dev.Engine.EraseAll(0); err != nil {
			log.Fatal("erase: ", err)
		}
	}

	log.Printf("programming %d bytes...", len(data))
	if err := dev.Engine.Program(data); err != nil {
		log.Fatal("program: ", err)
	}

	if *verify {
		log.Println("verifying...")
		ok, err := dev.Engine.Verify(data)
		if err != nil {
			log.Fatal("verify: ", err)
		}
		if !ok {
			log.Fatal("verify failed: readback does not match image")
		}
	}

	if *reset {
		dev.Reset()
	}

	log.Println("done")
}
