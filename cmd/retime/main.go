// SPDX-License-Identifier: GPL-2.0-or-later

// Retime rescales the timescale and duration of mp4 mvhd and mdhd atoms.
package main

import (
	"log"

	"retime"
)

func main() {
	if err := retime.Run(); err != nil {
		log.Fatal(err)
	}
}
