package main

import (
	"fmt"
	"io"
	"os"
	"sync/atomic"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	bpfcap "github.com/bpfcap/go-bpfcap"
)

var (
	debug  bool
	iface  string
	output string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "bpfcap",
	Short: "Capture link-layer frames from a given interface and print a summary of each",
	Long:  `Capture link-layer frames from a given interface and print a summary of each`,
	Run: func(cmd *cobra.Command, args []string) {
		if debug {
			log.SetLevel(log.DebugLevel)
		}

		out := io.Writer(os.Stdout)
		if output != "" {
			f, err := os.Create(output)
			if err != nil {
				log.Fatalf("cannot open output file: %v", err)
			}
			defer f.Close()
			out = f
		}

		fmt.Printf("capturing from interface %s\n", iface)
		dev, err := bpfcap.Acquire(iface)
		if err != nil {
			log.Fatal(err)
		}

		running := &atomic.Bool{}
		running.Store(true)
		stopNotify := bpfcap.NotifyInterrupt(running)
		defer stopNotify()

		linkType := layers.LinkType(dev.LinkType())
		var count int
		sniffer, err := bpfcap.NewSniffer(dev, running, func(data []byte, ci gopacket.CaptureInfo) {
			printFrame(out, gopacket.NewPacket(data, linkType, gopacket.Default), ci, count)
			count++
		})
		if err != nil {
			dev.Close()
			log.Fatal(err)
		}
		sniffer.Run()
		log.Infof("captured %d frames", count)
	},
}

func init() {
	rootCmd.Flags().BoolVar(&debug, "debug", false, "print lots of debugging messages")
	rootCmd.Flags().StringVarP(&iface, "interface", "i", "", "interface from which to capture")
	rootCmd.Flags().StringVarP(&output, "output", "o", "", "file to write frame summaries to, default stdout")
	_ = rootCmd.MarkFlagRequired("interface")
}

func printFrame(w io.Writer, packet gopacket.Packet, ci gopacket.CaptureInfo, count int) {
	if ethLayer := packet.Layer(layers.LayerTypeEthernet); ethLayer != nil {
		eth, _ := ethLayer.(*layers.Ethernet)
		fmt.Fprintf(w, "%d: Ethernet frame from src %s to dst %s\n", count, eth.SrcMAC, eth.DstMAC)
	}
	if ipLayer := packet.Layer(layers.LayerTypeIPv4); ipLayer != nil {
		// Get actual IP data from this layer
		ip, _ := ipLayer.(*layers.IPv4)
		fmt.Fprintf(w, "%d: IP packet from src %s to dst %s\n", count, ip.SrcIP, ip.DstIP)
	}
	if ipLayer := packet.Layer(layers.LayerTypeIPv6); ipLayer != nil {
		// Get actual IP data from this layer
		ip, _ := ipLayer.(*layers.IPv6)
		fmt.Fprintf(w, "%d: IP packet from src %s to dst %s\n", count, ip.SrcIP, ip.DstIP)
	}
	if udpLayer := packet.Layer(layers.LayerTypeUDP); udpLayer != nil {
		// Get actual UDP data from this layer
		udp, _ := udpLayer.(*layers.UDP)
		fmt.Fprintf(w, "%d: UDP packet from src port %d to dst port %d\n", count, udp.SrcPort, udp.DstPort)
	}
	if tcpLayer := packet.Layer(layers.LayerTypeTCP); tcpLayer != nil {
		// Get actual TCP data from this layer
		tcp, _ := tcpLayer.(*layers.TCP)
		fmt.Fprintf(w, "%d: TCP packet from src port %d to dst port %d\n", count, tcp.SrcPort, tcp.DstPort)
	}

	fmt.Fprintf(w, "%d: captured %d of %d bytes\n", count, ci.CaptureLength, ci.Length)
}
