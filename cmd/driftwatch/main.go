// Driftwatch - Terraform state vs live AWS drift detection.
package main

func main() {
	Execute()
}
