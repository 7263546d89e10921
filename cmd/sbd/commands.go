// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	sbd "github.com/luxfi/sbd"
	"github.com/luxfi/sbd/pio"
)

// A device's master key and verified root never live in the file
// itself (that would defeat the point); the CLI keeps them in two
// small sidecar files next to it so repeated invocations against the
// same device don't need the caller to retype a hex key every time.
func keyPath(devicePath string) string  { return devicePath + ".key" }
func rootPath(devicePath string) string { return devicePath + ".root" }

func parseCipherKind(s string) (sbd.Kind, error) {
	switch strings.ToLower(s) {
	case "none":
		return sbd.KindNone, nil
	case "siv":
		return sbd.KindSIV, nil
	case "ocb":
		return sbd.KindOCB, nil
	case "hmac":
		return sbd.KindHMAC, nil
	default:
		return 0, fmt.Errorf("unknown cipher kind %q (want none|siv|ocb|hmac)", s)
	}
}

func loadMasterKey(devicePath string) ([]byte, error) {
	hexKey, err := os.ReadFile(keyPath(devicePath))
	if err != nil {
		return nil, fmt.Errorf("reading key file: %w", err)
	}
	key, err := hex.DecodeString(strings.TrimSpace(string(hexKey)))
	if err != nil {
		return nil, fmt.Errorf("decoding key file: %w", err)
	}
	return key, nil
}

func loadRoot(devicePath string) (sbd.Hash, error) {
	var root sbd.Hash
	hexRoot, err := os.ReadFile(rootPath(devicePath))
	if err != nil {
		return root, fmt.Errorf("reading root file: %w", err)
	}
	decoded, err := hex.DecodeString(strings.TrimSpace(string(hexRoot)))
	if err != nil || len(decoded) != len(root) {
		return root, fmt.Errorf("decoding root file: %w", err)
	}
	copy(root[:], decoded)
	return root, nil
}

func saveRoot(devicePath string, root sbd.Hash) error {
	return os.WriteFile(rootPath(devicePath), []byte(hex.EncodeToString(root[:])+"\n"), 0o600)
}

func openFile(path string, create bool) (*os.File, error) {
	flags := os.O_RDWR
	if create {
		flags |= os.O_CREATE
	}
	return os.OpenFile(path, flags, 0o600)
}

func createCmd() *cobra.Command {
	var cipher string
	var cacheCapacity int

	cmd := &cobra.Command{
		Use:   "create <path>",
		Short: "Create a new secure block device file",
		Long: `Create a new secure block device file, generating a fresh master key
and writing it alongside the device as <path>.key. The device's empty-
tree Merkle root is recorded to <path>.root for later verify/info calls.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			kind, err := parseCipherKind(cipher)
			if err != nil {
				return err
			}

			f, err := openFile(path, true)
			if err != nil {
				return fmt.Errorf("opening %s: %w", path, err)
			}
			defer f.Close()

			masterKey := make([]byte, 32)
			if _, err := io.ReadFull(rand.Reader, masterKey); err != nil {
				return fmt.Errorf("generating master key: %w", err)
			}
			if err := os.WriteFile(keyPath(path), []byte(hex.EncodeToString(masterKey)+"\n"), 0o600); err != nil {
				return fmt.Errorf("writing key file: %w", err)
			}

			cfg := sbd.Config{
				CacheCapacity:     cacheCapacity,
				CipherKind:        kind,
				MaxWrappedKeySize: 32,
			}
			ctx := context.Background()
			provider := pio.NewFileProvider(f)
			d, err := sbd.Open(ctx, provider, cfg, masterKey, sbd.Hash{})
			if err != nil {
				return fmt.Errorf("creating device: %w", err)
			}
			if err := d.Close(ctx, masterKey); err != nil {
				return fmt.Errorf("closing device: %w", err)
			}

			if err := saveRoot(path, d.Root()); err != nil {
				return fmt.Errorf("writing root file: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %s (cipher=%s, root=%x)\n", path, kind, d.Root())
			return nil
		},
	}

	cmd.Flags().StringVar(&cipher, "cipher", "siv", "data block cipher: none|siv|ocb|hmac")
	cmd.Flags().IntVar(&cacheCapacity, "cache", 256, "number of blocks the write-back cache may hold resident")
	return cmd
}

func openForRead(path string) (*sbd.Device, *os.File, error) {
	masterKey, err := loadMasterKey(path)
	if err != nil {
		return nil, nil, err
	}
	root, err := loadRoot(path)
	if err != nil {
		return nil, nil, err
	}
	f, err := openFile(path, false)
	if err != nil {
		return nil, nil, fmt.Errorf("opening %s: %w", path, err)
	}
	provider := pio.NewFileProvider(f)
	// CipherKind is only consulted when creating a brand-new device;
	// an existing device's actual cipher comes from its own header.
	d, err := sbd.Open(context.Background(), provider, sbd.Config{CacheCapacity: 256, CipherKind: sbd.KindSIV, MaxWrappedKeySize: 32}, masterKey, root)
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	return d, f, nil
}

func infoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info <path>",
		Short: "Print a secure block device's size, cipher, and Merkle root",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			masterKey, err := loadMasterKey(path)
			if err != nil {
				return err
			}
			d, f, err := openForRead(path)
			if err != nil {
				return fmt.Errorf("opening device: %w", err)
			}
			defer f.Close()

			st := d.Stat()
			fmt.Fprintf(cmd.OutOrStdout(), "size=%d cipher=%s block-size=%d cache=%d/%d poisoned=%t root=%x\n",
				st.Size, st.CipherKind, st.BlockSize, st.CacheLen, st.CacheCapacity, st.Poisoned, st.Root)
			return d.Close(context.Background(), masterKey)
		},
	}
}

func verifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <path>",
		Short: "Verify a device's management blocks against its recorded Merkle root",
		Long: `Re-opens the device, which rebuilds the Merkle tree from every
management block on disk and compares it against <path>.root. A
tampered or rolled-back device fails to open at all.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			masterKey, err := loadMasterKey(path)
			if err != nil {
				return err
			}
			d, f, err := openForRead(path)
			if err != nil {
				return fmt.Errorf("verify failed: %w", err)
			}
			defer f.Close()
			defer d.Close(context.Background(), masterKey)

			fmt.Fprintf(cmd.OutOrStdout(), "%s verified, root=%x\n", path, d.Root())
			return nil
		},
	}
}

func catCmd() *cobra.Command {
	var offset, length int64

	cmd := &cobra.Command{
		Use:   "cat <path>",
		Short: "Read a byte range from a device and write it to stdout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			masterKey, err := loadMasterKey(path)
			if err != nil {
				return err
			}
			d, f, err := openForRead(path)
			if err != nil {
				return fmt.Errorf("opening device: %w", err)
			}
			defer f.Close()
			defer d.Close(context.Background(), masterKey)

			buf := make([]byte, length)
			n, err := d.PRead(context.Background(), uint64(offset), buf)
			if err != nil {
				return fmt.Errorf("reading: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(buf[:n])
			return err
		},
	}

	cmd.Flags().Int64Var(&offset, "offset", 0, "byte offset to start reading at")
	cmd.Flags().Int64Var(&length, "length", 0, "number of bytes to read")
	return cmd
}

func putCmd() *cobra.Command {
	var offset int64

	cmd := &cobra.Command{
		Use:   "put <path>",
		Short: "Write stdin to a device at a given offset and sync",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			masterKey, err := loadMasterKey(path)
			if err != nil {
				return err
			}
			d, f, err := openForRead(path)
			if err != nil {
				return fmt.Errorf("opening device: %w", err)
			}
			defer f.Close()

			data, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return fmt.Errorf("reading stdin: %w", err)
			}

			ctx := context.Background()
			if _, err := d.PWrite(ctx, uint64(offset), data); err != nil {
				d.Close(ctx, masterKey)
				return fmt.Errorf("writing: %w", err)
			}
			if err := d.Sync(ctx, masterKey); err != nil {
				d.Close(ctx, masterKey)
				return fmt.Errorf("syncing: %w", err)
			}
			root := d.Root()
			if err := saveRoot(path, root); err != nil {
				d.Close(ctx, masterKey)
				return fmt.Errorf("writing root file: %w", err)
			}
			if err := d.Close(ctx, masterKey); err != nil {
				return fmt.Errorf("closing device: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d bytes at offset %d, root=%x\n", len(data), offset, root)
			return nil
		},
	}

	cmd.Flags().Int64Var(&offset, "offset", 0, "byte offset to start writing at")
	return cmd
}
