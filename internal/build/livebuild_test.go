package build

import (
	"context"
	"testing"

	"github.com/sealbox/sealbox/internal/runtool"
)

func TestValidateBuildDirRejectsNoexec(t *testing.T) {
	fake := runtool.NewFake()
	fake.OnOK("findmnt", "rw,noexec,relatime")

	lb := NewLiveBuilder(fake, nil)
	err := lb.ValidateBuildDir(context.Background(), "/some/build")
	if err == nil {
		t.Fatal("expected error for noexec mount")
	}
}

func TestValidateBuildDirAcceptsCleanMount(t *testing.T) {
	fake := runtool.NewFake()
	fake.OnOK("findmnt", "rw,relatime")

	lb := NewLiveBuilder(fake, nil)
	if err := lb.ValidateBuildDir(context.Background(), "/some/build"); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

type fakeProxyFinder struct {
	url string
}

func (f fakeProxyFinder) FindProxy(target string) (string, error) { return f.url, nil }

func TestProxyEnvUsesCollaboratorWhenSet(t *testing.T) {
	lb := NewLiveBuilder(runtool.NewFake(), fakeProxyFinder{url: "http://proxy.example.test:3128"})
	env := lb.proxyEnv("docker.io/library/debian")
	if len(env) != 2 {
		t.Fatalf("expected 2 proxy env entries, got %v", env)
	}
}
