// Package bubbles is a small Go client for the Bubbles chat and holder API.
package bubbles
