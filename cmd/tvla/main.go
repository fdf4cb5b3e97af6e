// tvla ingests side-channel trace sets into a resumable sqlite state
// store and scores class pairs with Welch's t-test.
package main

import (
	"log"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
