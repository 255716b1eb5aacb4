package lqoc

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestLQOC(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "LQOC Solver Suite")
}
