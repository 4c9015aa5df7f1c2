// helmet-sim posts synthetic helmet telemetry to a running hardhat server.
//
// Usage:
//
//	helmet-sim [-url http://localhost:3000] [-worker 001] [-temp 38.5]
//	           [-humidity 65.2] [-gas 250] [-fall] [-aliases canonical|esp32]
//	           [-count 1] [-interval 1s]
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/go-resty/resty/v2"
)

func main() {
	url := flag.String("url", "http://localhost:3000", "server base URL")
	worker := flag.String("worker", "001", "worker id")
	temp := flag.Float64("temp", 38.5, "temperature in °C")
	humidity := flag.Float64("humidity", 65.2, "relative humidity")
	gas := flag.Float64("gas", 250, "gas level in ppm")
	fall := flag.Bool("fall", false, "report a fall")
	aliases := flag.String("aliases", "canonical", "field spelling: canonical or esp32")
	count := flag.Int("count", 1, "number of payloads to send")
	interval := flag.Duration("interval", time.Second, "delay between payloads")
	flag.Parse()

	if *aliases != "canonical" && *aliases != "esp32" {
		fmt.Fprintf(os.Stderr, "unknown -aliases %q\n", *aliases)
		os.Exit(2)
	}

	client := resty.New().
		SetBaseURL(*url).
		SetTimeout(5 * time.Second).
		SetHeader("Content-Type", "application/json")

	s := sample{
		Worker:   *worker,
		Temp:     *temp,
		Humidity: *humidity,
		Gas:      *gas,
		Fall:     *fall,
	}

	failed := false
	for i := 0; i < *count; i++ {
		if i > 0 {
			time.Sleep(*interval)
		}
		body := s.payload(*aliases, time.Now())
		resp, err := client.R().SetBody(body).Post("/api/sensor-data")
		if err != nil {
			fmt.Fprintf(os.Stderr, "request %d: %v\n", i+1, err)
			failed = true
			continue
		}
		fmt.Printf("status: %d\n", resp.StatusCode())
		fmt.Printf("response: %s\n", resp.String())
		if resp.IsError() {
			failed = true
		}
	}
	if failed {
		os.Exit(1)
	}
}

// sample is one simulated helmet reading.
type sample struct {
	Worker   string
	Temp     float64
	Humidity float64
	Gas      float64
	Fall     bool
}

// payload renders the sample using either the canonical field names or the
// short spellings seen from ESP32 firmware.
func (s sample) payload(aliases string, now time.Time) map[string]any {
	if aliases == "esp32" {
		fall := 0
		if s.Fall {
			fall = 1
		}
		return map[string]any{
			"id":       s.Worker,
			"temp":     s.Temp,
			"hum":      s.Humidity,
			"gas":      s.Gas,
			"isFallen": fall,
			"mpu":      "ok",
			"time":     now.UnixMilli(),
		}
	}
	return map[string]any{
		"workerId":     s.Worker,
		"temperature":  s.Temp,
		"humidity":     s.Humidity,
		"gasLevel":     s.Gas,
		"fallDetected": s.Fall,
		"timestamp":    now.UTC().Format(time.RFC3339),
	}
}
