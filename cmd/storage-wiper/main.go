package main

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/kidoz/storage-wiper-sub000/internal/ata"
	"github.com/kidoz/storage-wiper-sub000/internal/config"
	"github.com/kidoz/storage-wiper-sub000/internal/ipc"
	"github.com/kidoz/storage-wiper-sub000/internal/logging"
	"github.com/kidoz/storage-wiper-sub000/internal/service"
	"github.com/kidoz/storage-wiper-sub000/internal/system"
	"github.com/kidoz/storage-wiper-sub000/internal/wipe"
)

const (
	Version = "1.0.0"
	AppName = "Storage Wiper"
)

var (
	cfg        *config.Config
	logger     *logging.EnterpriseLogger
	verbose    bool
	configPath string
	dryRun     bool
	doVerify   bool
)

// CLI команды
var rootCmd = &cobra.Command{
	Use:     "storage-wiper",
	Short:   "Storage Wiper - движок безопасного стирания дисков",
	Long:    "Привилегированный движок безопасного стирания физических дисков: многопроходные программные алгоритмы и аппаратный ATA Secure Erase",
	Version: Version,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Запустить движок на системной шине D-Bus",
	RunE:  runServe,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "Показать физические диски",
	RunE:  runList,
}

var algorithmsCmd = &cobra.Command{
	Use:   "algorithms",
	Short: "Показать доступные алгоритмы затирания",
	RunE:  runAlgorithms,
}

var wipeCmd = &cobra.Command{
	Use:   "wipe <устройство> <id-алгоритма>",
	Short: "Запустить затирание устройства",
	Args:  cobra.ExactArgs(2),
	RunE:  runWipe,
}

var cancelCmd = &cobra.Command{
	Use:   "cancel",
	Short: "Отменить текущую операцию затирания",
	RunE:  runCancel,
}

var unmountCmd = &cobra.Command{
	Use:   "unmount <устройство>",
	Short: "Размонтировать устройство и его разделы",
	Args:  cobra.ExactArgs(1),
	RunE:  runUnmount,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Подробный вывод")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Путь к конфигурации")

	wipeCmd.Flags().BoolVarP(&dryRun, "dry-run", "n", false, "Только проверить цель, не запускать стирание")
	wipeCmd.Flags().BoolVar(&doVerify, "verify", false, "Контрольное чтение после затирания")

	rootCmd.AddCommand(serveCmd, listCmd, algorithmsCmd, wipeCmd, cancelCmd, unmountCmd)
}

func initRuntime() error {
	var err error
	cfg, err = config.Load(configPath)
	if err != nil {
		return fmt.Errorf("ошибка загрузки конфигурации: %w", err)
	}

	logger, err = logging.NewEnterpriseLogger(cfg, verbose)
	if err != nil {
		return fmt.Errorf("ошибка инициализации логирования: %w", err)
	}

	return nil
}

// runServe собирает движок и держит его на шине до сигнала остановки
func runServe(cmd *cobra.Command, args []string) error {
	if err := initRuntime(); err != nil {
		return err
	}
	defer logger.Close()

	logger.Log("INFO", "Запуск движка", "app", AppName, "version", Version)

	registry := wipe.NewRegistry(cfg.Engine.BufferSize, cfg.Engine.MaxSpeedMBps)
	registry.Register(ata.NewSecureEraseAlgorithm(ata.NewSGIOPort(), cfg.ATA.TempPassword, logger))

	enumerator := system.NewEnumerator(cfg.ATA.SmartctlPath)
	policy := system.NewDeviceAccessPolicy(cfg.Policy.AllowedPrefixes, enumerator)

	var server *ipc.Server
	controller := service.NewController(cfg, registry, policy, logger,
		service.EventFunc(func(e service.Event) { server.EmitProgress(e) }))
	server = ipc.NewServer(cfg, controller, enumerator, policy, registry, logger)

	if err := server.Run(); err != nil {
		return err
	}
	defer server.Close()
	defer controller.Close()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	sig := <-stop

	logger.Log("INFO", "Получен сигнал остановки", "signal", sig.String())
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	if err := initRuntime(); err != nil {
		return err
	}
	defer logger.Close()

	client, err := ipc.Dial(cfg.Engine.BusName)
	if err != nil {
		return err
	}
	defer client.Close()

	disks, err := client.ListDisks()
	if err != nil {
		return err
	}

	if len(disks) == 0 {
		fmt.Println("Физические диски не найдены")
		return nil
	}

	for _, d := range disks {
		kind := "HDD"
		if d.SSD {
			kind = "SSD"
		}
		fmt.Printf("%-14s %-24s %-10s %s\n", d.Path, d.Model, humanize.IBytes(d.SizeBytes), kind)
		if d.Serial != "" {
			fmt.Printf("  серийный номер: %s\n", d.Serial)
		}
		if d.Mounted {
			fmt.Printf("  СМОНТИРОВАН: %s (%s)\n", d.MountPoint, d.Filesystem)
		}
		if d.DMBacked {
			fmt.Println("  поверх устройства собран device-mapper том")
		}
		if d.SmartOK {
			health := "OK"
			if !d.SmartHealthy {
				health = "ДЕГРАДАЦИЯ"
			}
			fmt.Printf("  SMART: %s, %d°C, наработка %d ч\n", health, d.Temperature, d.PowerOnHours)
		}
	}

	return nil
}

func runAlgorithms(cmd *cobra.Command, args []string) error {
	if err := initRuntime(); err != nil {
		return err
	}
	defer logger.Close()

	client, err := ipc.Dial(cfg.Engine.BusName)
	if err != nil {
		return err
	}
	defer client.Close()

	algorithms, err := client.GetAlgorithms()
	if err != nil {
		return err
	}

	for _, a := range algorithms {
		fmt.Printf("%2d  %-28s проходов: %-3d %s\n", a.ID, a.Name, a.Passes, a.Description)
	}

	return nil
}

func runWipe(cmd *cobra.Command, args []string) error {
	if err := initRuntime(); err != nil {
		return err
	}
	defer logger.Close()

	devicePath := args[0]
	algorithmID, err := strconv.ParseUint(args[1], 10, 32)
	if err != nil {
		return fmt.Errorf("неверный идентификатор алгоритма: %s", args[1])
	}

	client, err := ipc.Dial(cfg.Engine.BusName)
	if err != nil {
		return err
	}
	defer client.Close()

	if dryRun {
		valid, message, err := client.ValidateDevicePath(devicePath)
		if err != nil {
			return err
		}
		if !valid {
			return fmt.Errorf("цель отклонена: %s", message)
		}
		fmt.Printf("Цель %s прошла все проверки, стирание не запущено (dry-run)\n", devicePath)
		return nil
	}

	// Подписка до старта, чтобы не потерять первые события
	events, err := client.WatchProgress()
	if err != nil {
		return err
	}

	started, message, err := client.StartWipe(devicePath, uint32(algorithmID), doVerify)
	if err != nil {
		return err
	}
	if !started {
		return fmt.Errorf("запуск отклонён: %s", message)
	}

	fmt.Printf("Затирание %s запущено\n", devicePath)

	for e := range events {
		if e.DevicePath != devicePath {
			continue
		}

		if e.IsComplete {
			if e.HasError {
				return fmt.Errorf("операция завершилась с ошибкой: %s", e.ErrorMessage)
			}
			fmt.Printf("\n%s\n", e.Status)
			return nil
		}

		eta := "--"
		if e.ETASeconds >= 0 {
			eta = fmt.Sprintf("%ds", e.ETASeconds)
		}
		fmt.Printf("\rПроход %d/%d  %5.1f%%  %s/s  ETA %s   ",
			e.CurrentPass, e.TotalPasses, e.Percentage,
			humanize.IBytes(uint64(e.SpeedBps)), eta)
	}

	return fmt.Errorf("поток прогресса прервался до завершения операции")
}

func runCancel(cmd *cobra.Command, args []string) error {
	if err := initRuntime(); err != nil {
		return err
	}
	defer logger.Close()

	client, err := ipc.Dial(cfg.Engine.BusName)
	if err != nil {
		return err
	}
	defer client.Close()

	wasRunning, err := client.CancelWipe()
	if err != nil {
		return err
	}

	if wasRunning {
		fmt.Println("Отмена запрошена, операция завершится после текущего блока")
	} else {
		fmt.Println("Активных операций нет")
	}
	return nil
}

func runUnmount(cmd *cobra.Command, args []string) error {
	if err := initRuntime(); err != nil {
		return err
	}
	defer logger.Close()

	client, err := ipc.Dial(cfg.Engine.BusName)
	if err != nil {
		return err
	}
	defer client.Close()

	ok, message, err := client.UnmountDevice(args[0])
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("размонтирование не удалось: %s", message)
	}

	fmt.Printf("Устройство %s размонтировано\n", args[0])
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Ошибка:", err)
		os.Exit(1)
	}
}
