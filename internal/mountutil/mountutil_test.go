package mountutil

import (
	"testing"

	"github.com/phytec/partitup/internal/shell"
)

type fakeExecutor struct {
	cmds []string
}

func (f *fakeExecutor) ExecCmd(cmdStr string) (string, error) {
	f.cmds = append(f.cmds, cmdStr)
	return "", nil
}

func (f *fakeExecutor) ExecCmdSilent(cmdStr string) (string, error) {
	return f.ExecCmd(cmdStr)
}

func withFakeExecutor(t *testing.T) *fakeExecutor {
	t.Helper()
	prev := shell.Default
	fake := &fakeExecutor{}
	shell.Default = fake
	t.Cleanup(func() { shell.Default = prev })
	return fake
}

func TestMountBuildsCommandWithTypeAndOptions(t *testing.T) {
	fake := withFakeExecutor(t)
	if err := Mount("/dev/loop0", "/run/partitup/mount/pkg", "squashfs", "loop,ro"); err != nil {
		t.Fatalf("Mount: %v", err)
	}
	want := "mount -t squashfs -o loop,ro /dev/loop0 /run/partitup/mount/pkg"
	if len(fake.cmds) != 1 || fake.cmds[0] != want {
		t.Fatalf("cmds = %v, want [%q]", fake.cmds, want)
	}
}

func TestMountOmitsFlagsWhenBlank(t *testing.T) {
	fake := withFakeExecutor(t)
	if err := Mount("/dev/sda1", "/mnt/x", "", ""); err != nil {
		t.Fatalf("Mount: %v", err)
	}
	want := "mount   /dev/sda1 /mnt/x"
	if len(fake.cmds) != 1 || fake.cmds[0] != want {
		t.Fatalf("cmds = %v, want [%q]", fake.cmds, want)
	}
}

func TestUmount(t *testing.T) {
	fake := withFakeExecutor(t)
	if err := Umount("/run/partitup/mount/pkg"); err != nil {
		t.Fatalf("Umount: %v", err)
	}
	want := "umount /run/partitup/mount/pkg"
	if len(fake.cmds) != 1 || fake.cmds[0] != want {
		t.Fatalf("cmds = %v, want [%q]", fake.cmds, want)
	}
}

// UmountAll is best-effort over device.MountedPartitions, which consults the
// real /proc/mounts; a fabricated device name won't appear there, so no
// umount commands should run and no error should surface.
func TestUmountAllNoMatchesIsNoop(t *testing.T) {
	fake := withFakeExecutor(t)
	if err := UmountAll("/dev/partitup-test-nonexistent-device"); err != nil {
		t.Fatalf("UmountAll: %v", err)
	}
	if len(fake.cmds) != 0 {
		t.Fatalf("expected no umount commands, got %v", fake.cmds)
	}
}
