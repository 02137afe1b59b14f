package main

import (
	"errors"
	"fmt"
	"testing"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
)

func TestAlreadyExists(t *testing.T) {
	exists := &azcore.ResponseError{ErrorCode: "QueueAlreadyExists", StatusCode: 409}
	if !alreadyExists(fmt.Errorf("create: %w", exists), "QueueAlreadyExists") {
		t.Fatalf("wrapped conflict not recognised")
	}
	if alreadyExists(exists, "TableAlreadyExists") {
		t.Fatalf("matched the wrong code")
	}
	if alreadyExists(errors.New("network"), "QueueAlreadyExists") {
		t.Fatalf("plain error matched")
	}
}
